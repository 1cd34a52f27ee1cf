package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bottlescout/price-ingest/internal/domain"
)

func TestProductRecordValid(t *testing.T) {
	base := domain.ProductRecord{
		Chain:           "northcellar",
		SourceProductID: "p1",
		Name:            "Heineken Lager",
		Price:           10.00,
	}

	tests := []struct {
		name   string
		mutate func(*domain.ProductRecord)
		want   bool
	}{
		{name: "valid record", mutate: func(r *domain.ProductRecord) {}, want: true},
		{name: "free item", mutate: func(r *domain.ProductRecord) { r.Price = 0 }, want: true},
		{name: "missing chain", mutate: func(r *domain.ProductRecord) { r.Chain = "" }, want: false},
		{name: "blank source id", mutate: func(r *domain.ProductRecord) { r.SourceProductID = "  " }, want: false},
		{name: "blank name", mutate: func(r *domain.ProductRecord) { r.Name = " " }, want: false},
		{name: "negative price", mutate: func(r *domain.ProductRecord) { r.Price = -1 }, want: false},
		{name: "negative promo price", mutate: func(r *domain.ProductRecord) {
			promo := -0.5
			r.PromoPrice = &promo
		}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := base
			tt.mutate(&rec)
			assert.Equal(t, tt.want, rec.Valid())
		})
	}
}

func TestCredentialsEmpty(t *testing.T) {
	var nilCreds *domain.Credentials
	assert.True(t, nilCreds.Empty())
	assert.True(t, (&domain.Credentials{}).Empty())
	assert.False(t, (&domain.Credentials{Token: "t"}).Empty())
	assert.False(t, (&domain.Credentials{Cookies: map[string]string{"s": "v"}}).Empty())
}

func TestPageOutcomeAdd(t *testing.T) {
	total := domain.PageOutcome{Items: 10, Changed: 2, Failed: 1}
	total.Add(domain.PageOutcome{Items: 5, Changed: 1, Failed: 3, PagesSkipped: 2})

	assert.Equal(t, 15, total.Items)
	assert.Equal(t, 3, total.Changed)
	assert.Equal(t, 4, total.Failed)
	assert.Equal(t, 2, total.PagesSkipped)
}
