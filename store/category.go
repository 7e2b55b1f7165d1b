package store

import (
	"fmt"
	"strings"
)

// Category is the tier label carried by every element.
type Category string

const (
	Basic    Category = "basic"
	Advanced Category = "advanced"
	Expert   Category = "expert"
)

// Categories lists the tiers in ascending order.
var Categories = []Category{Basic, Advanced, Expert}

// ParseCategory parses a category name, case-insensitively.
func ParseCategory(raw string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(raw))) {
	case Basic:
		return Basic, nil
	case Advanced:
		return Advanced, nil
	case Expert:
		return Expert, nil
	default:
		return "", fmt.Errorf("unknown category: %q", raw)
	}
}

// IsAdvanced reports whether the tier is advanced or expert.
func (c Category) IsAdvanced() bool {
	return c == Advanced || c == Expert
}
