package normalize_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bottlescout/price-ingest/internal/normalize"
)

func TestParseVolume(t *testing.T) {
	tests := []struct {
		name string
		text string
		want normalize.Volume
		ok   bool
	}{
		{
			name: "multipack with x separator",
			text: "Heineken Lager 24 x 330ml",
			want: normalize.Volume{PackCount: 24, UnitVolumeML: 330, TotalVolumeML: 7920},
			ok:   true,
		},
		{
			name: "multipack with decimal litres",
			text: "Pilsner 6x0.5 l",
			want: normalize.Volume{PackCount: 6, UnitVolumeML: 500, TotalVolumeML: 3000},
			ok:   true,
		},
		{
			name: "pack keyword",
			text: "Craft IPA 4 pack 440ml",
			want: normalize.Volume{PackCount: 4, UnitVolumeML: 440, TotalVolumeML: 1760},
			ok:   true,
		},
		{
			name: "single bottle centilitres",
			text: "Single Malt 70cl",
			want: normalize.Volume{PackCount: 1, UnitVolumeML: 700, TotalVolumeML: 700},
			ok:   true,
		},
		{
			name: "single bottle decimal litres",
			text: "Vodka 0.7 l",
			want: normalize.Volume{PackCount: 1, UnitVolumeML: 700, TotalVolumeML: 700},
			ok:   true,
		},
		{
			name: "no volume expression",
			text: "Gift Card",
			want: normalize.Volume{},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalize.ParseVolume(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractABV(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
		ok   bool
	}{
		{name: "plain percentage", text: "Absolut Vodka 40%", want: 40, ok: true},
		{name: "decimal with comma", text: "Pils 5,0% vol", want: 5, ok: true},
		{name: "spaced percent sign", text: "Scotch 43 % vol", want: 43, ok: true},
		{name: "marketing percentage rejected", text: "100% natural ingredients", want: 0, ok: false},
		{name: "no percentage", text: "Dry Gin 700ml", want: 0, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalize.ExtractABV(tt.text)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInferCategory(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{name: "Heineken Premium Lager", want: "beer"},
		{name: "Oyster Bay Sauvignon Blanc", want: "wine"},
		{name: "Jack Daniel's Tennessee Whiskey", want: "whisky"},
		{name: "Somersby Apple Cider", want: "cider"},
		{name: "Hendrick's Gin", want: "gin"},
		{name: "Mystery Beverage", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalize.InferCategory(tt.name))
		})
	}
}

func TestInferBrand(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "strips multipack suffix", text: "Heineken Lager 24 x 330ml", want: "Heineken Lager"},
		{name: "strips single volume", text: "Absolut Vodka 700ml", want: "Absolut Vodka"},
		{name: "caps at two words", text: "Jack Daniel's Old No.7 700ml", want: "Jack Daniel's"},
		{name: "empty after cleaning", text: "330ml", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalize.InferBrand(tt.text))
		})
	}
}
