// Package normalize holds the free-text heuristics sources apply to raw
// catalog markup: volume/pack parsing, ABV extraction and brand/category
// inference. These are pure functions over product names and descriptions;
// chains with structured feeds bypass them entirely.
package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// Volume describes the pack shape parsed out of a product name
type Volume struct {
	PackCount     int
	UnitVolumeML  int
	TotalVolumeML int
}

var (
	// "24 x 330ml", "6x0.5 l", "4 pack 440ml"
	packVolumeRe = regexp.MustCompile(`(?i)(\d{1,3})\s*(?:x|pack\s+)\s*(\d+(?:[.,]\d+)?)\s*(ml|cl|l|litre|liter)\b`)
	// "330ml", "0.7 l", "70cl"
	singleVolumeRe = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(ml|cl|l|litre|liter)\b`)
	// "4.5%", "ABV 40%", "40 % vol"
	abvRe = regexp.MustCompile(`(?i)(\d{1,2}(?:[.,]\d{1,2})?)\s*%`)
)

// toMillilitres converts a parsed quantity and unit into millilitres
func toMillilitres(raw string, unit string) int {
	value, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64)
	if err != nil {
		return 0
	}
	switch strings.ToLower(unit) {
	case "ml":
		return int(value + 0.5)
	case "cl":
		return int(value*10 + 0.5)
	default: // l, litre, liter
		return int(value*1000 + 0.5)
	}
}

// ParseVolume extracts pack count and unit/total volume from free text.
// Returns ok=false when no volume expression is present.
func ParseVolume(text string) (Volume, bool) {
	if m := packVolumeRe.FindStringSubmatch(text); m != nil {
		count, err := strconv.Atoi(m[1])
		if err != nil || count <= 0 {
			return Volume{}, false
		}
		unit := toMillilitres(m[2], m[3])
		if unit <= 0 {
			return Volume{}, false
		}
		return Volume{
			PackCount:     count,
			UnitVolumeML:  unit,
			TotalVolumeML: count * unit,
		}, true
	}

	if m := singleVolumeRe.FindStringSubmatch(text); m != nil {
		unit := toMillilitres(m[1], m[2])
		if unit <= 0 {
			return Volume{}, false
		}
		return Volume{
			PackCount:     1,
			UnitVolumeML:  unit,
			TotalVolumeML: unit,
		}, true
	}

	return Volume{}, false
}

// ExtractABV pulls an alcohol-by-volume percentage out of free text.
// Percentages above 96 are rejected as noise (discount badges etc).
func ExtractABV(text string) (float64, bool) {
	for _, m := range abvRe.FindAllStringSubmatch(text, -1) {
		value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil {
			continue
		}
		if value > 0 && value <= 96 {
			return value, true
		}
	}
	return 0, false
}

// categoryKeywords maps catalog categories to the tokens that signal them.
// Order matters: earlier entries win on ambiguous names.
var categoryKeywords = []struct {
	category string
	tokens   []string
}{
	{"cider", []string{"cider", "perry"}},
	{"beer", []string{"beer", "lager", "ale", "ipa", "stout", "pilsner", "porter"}},
	{"wine", []string{"wine", "shiraz", "merlot", "sauvignon", "chardonnay", "riesling", "pinot", "prosecco", "champagne", "rosé", "rose"}},
	{"whisky", []string{"whisky", "whiskey", "bourbon", "scotch"}},
	{"gin", []string{"gin"}},
	{"vodka", []string{"vodka"}},
	{"rum", []string{"rum"}},
	{"liqueur", []string{"liqueur", "schnapps", "aperitif", "vermouth"}},
	{"seltzer", []string{"seltzer", "hard soda"}},
}

// InferCategory guesses a catalog category from a product name.
// Returns "" when nothing matches.
func InferCategory(name string) string {
	lower := strings.ToLower(name)
	for _, entry := range categoryKeywords {
		for _, token := range entry.tokens {
			if strings.Contains(lower, token) {
				return entry.category
			}
		}
	}
	return ""
}

// volumeNoiseRe strips volume/pack/ABV suffixes before brand inference
var volumeNoiseRe = regexp.MustCompile(`(?i)\s*(\d{1,3}\s*x\s*)?\d+(?:[.,]\d+)?\s*(ml|cl|l|litre|liter|%|pack)\b.*$`)

// InferBrand guesses the brand as the leading words of the cleaned product
// name, capped at two tokens. Vendor feeds with explicit brand fields
// override this.
func InferBrand(name string) string {
	cleaned := strings.TrimSpace(volumeNoiseRe.ReplaceAllString(name, ""))
	if cleaned == "" {
		return ""
	}

	words := strings.Fields(cleaned)
	if len(words) > 2 {
		words = words[:2]
	}
	return strings.Join(words, " ")
}
