package config

import "sort"

// Category groups commands for prefixes, enablement and help listing.
type Category struct {
	Name          string
	Label         string
	DefaultPrefix string
	Weight        int
}

const FallbackPrefix = "!"

var Categories = []Category{
	{Name: "core", Label: "🕯️ Information", DefaultPrefix: "!", Weight: 0},
	{Name: "utility", Label: "📢 Utilities", DefaultPrefix: "!", Weight: 10},
	{Name: "fun", Label: "🎲 Gameplay", DefaultPrefix: "?", Weight: 20},
	{Name: "moderation", Label: "🧹 Moderation", DefaultPrefix: ".", Weight: 45},
	{Name: "settings", Label: "⚙️ Settings", DefaultPrefix: "!", Weight: 50},
}

func CategoryByName(name string) (Category, bool) {
	for _, c := range Categories {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// DefaultPrefix returns the built-in prefix of a category, FallbackPrefix for unknown ones.
func DefaultPrefix(category string) string {
	if c, ok := CategoryByName(category); ok {
		return c.DefaultPrefix
	}
	return FallbackPrefix
}

// SortedCategories returns categories ordered by weight, then name.
func SortedCategories() []Category {
	out := append([]Category(nil), Categories...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight < out[j].Weight
		}
		return out[i].Name < out[j].Name
	})
	return out
}
