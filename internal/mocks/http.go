package mocks

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// FakeHTTPClient answers GETs from a response table and records every
// requested URL in order.
type FakeHTTPClient struct {
	mu       sync.Mutex
	Requests []string

	// GetFunc, when set, answers every GET
	GetFunc func(ctx context.Context, url string, headers map[string]string) ([]byte, error)
	// PostFunc, when set, answers every POST
	PostFunc func(ctx context.Context, url string, contentType string, body io.Reader, headers map[string]string) ([]byte, error)
}

func (f *FakeHTTPClient) GetBytes(ctx context.Context, url string, headers map[string]string) ([]byte, error) {
	f.mu.Lock()
	f.Requests = append(f.Requests, url)
	f.mu.Unlock()

	if f.GetFunc == nil {
		return nil, fmt.Errorf("unexpected GET %s", url)
	}
	return f.GetFunc(ctx, url, headers)
}

func (f *FakeHTTPClient) PostForm(ctx context.Context, url string, contentType string, body io.Reader, headers map[string]string) ([]byte, error) {
	f.mu.Lock()
	f.Requests = append(f.Requests, url)
	f.mu.Unlock()

	if f.PostFunc == nil {
		return nil, fmt.Errorf("unexpected POST %s", url)
	}
	return f.PostFunc(ctx, url, contentType, body, headers)
}

// RequestCount returns how many requests were issued
func (f *FakeHTTPClient) RequestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Requests)
}

// FakeBrowser answers page renders and cookie captures from stub functions
type FakeBrowser struct {
	RenderFunc  func(ctx context.Context, url string) (string, error)
	CookiesFunc func(ctx context.Context, url string, settle time.Duration) (map[string]string, error)
}

func (f *FakeBrowser) RenderPage(ctx context.Context, url string) (string, error) {
	if f.RenderFunc == nil {
		return "", fmt.Errorf("unexpected render %s", url)
	}
	return f.RenderFunc(ctx, url)
}

func (f *FakeBrowser) CaptureCookies(ctx context.Context, url string, settle time.Duration) (map[string]string, error) {
	if f.CookiesFunc == nil {
		return nil, fmt.Errorf("unexpected cookie capture %s", url)
	}
	return f.CookiesFunc(ctx, url, settle)
}
