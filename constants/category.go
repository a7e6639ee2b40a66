package constants

import (
	"strings"
)

type Category string

const (
	Food           Category = "Food"
	Transportation Category = "Transportation"
	Entertainment  Category = "Entertainment"
	Shopping       Category = "Shopping"
	Utilities      Category = "Utilities"
	Housing        Category = "Housing"
	Healthcare     Category = "Healthcare"
	Other          Category = "Other"
)

var allCategories = []Category{
	Food,
	Transportation,
	Entertainment,
	Shopping,
	Utilities,
	Housing,
	Healthcare,
	Other,
}

func AsStringSlice() []string {
	result := make([]string, len(allCategories))
	for i, cat := range allCategories {
		result[i] = string(cat)
	}
	return result
}

func Canonicalize(input string) (Category, bool) {
	if input == "" {
		return Other, false
	}

	normalized := strings.ToLower(strings.TrimSpace(input))

	// synonyms map
	synonyms := map[string]Category{
		"groceries":  Food,
		"dining":     Food,
		"restaurant": Food,
		"transit":    Transportation,
		"fuel":       Transportation,
		"gas":        Transportation,
		"movies":     Entertainment,
		"streaming":  Entertainment,
		"rent":       Housing,
		"mortgage":   Housing,
		"medical":    Healthcare,
		"pharmacy":   Healthcare,
		"electric":   Utilities,
		"internet":   Utilities,
	}

	if cat, ok := synonyms[normalized]; ok {
		return cat, true
	}

	// check if it matches any category string
	for _, cat := range allCategories {
		if normalized == strings.ToLower(string(cat)) {
			return cat, true
		}
	}

	return Other, false
}

// merchant keyword → category, checked in order against the lowercased name
var merchantKeywords = []struct {
	keyword  string
	category Category
}{
	{"market", Food},
	{"grocery", Food},
	{"restaurant", Food},
	{"cafe", Food},
	{"gas", Transportation},
	{"transport", Transportation},
	{"taxi", Transportation},
	{"uber", Transportation},
	{"lyft", Transportation},
	{"cinema", Entertainment},
	{"theater", Entertainment},
	{"pharmacy", Healthcare},
	{"clinic", Healthcare},
	{"electric", Utilities},
	{"water", Utilities},
	{"rent", Housing},
}

// SuggestForMerchant derives a category from the merchant name. The second
// return is false when no keyword matched.
func SuggestForMerchant(merchant string) (Category, bool) {
	lower := strings.ToLower(merchant)
	for _, mk := range merchantKeywords {
		if strings.Contains(lower, mk.keyword) {
			return mk.category, true
		}
	}
	return Other, false
}
