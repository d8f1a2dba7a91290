// Package caste resolves normalized surnames to caste/ethnic categories.
package caste

import (
	"fmt"
	"strings"
)

// Category is one of the fixed caste/ethnic groups.
type Category string

const (
	Brahmin  Category = "brahmin"
	Chhetri  Category = "chhetri"
	Janajati Category = "janajati"
	Dalit    Category = "dalit"
	Madhesi  Category = "madhesi"
	Muslim   Category = "muslim"
	Other    Category = "other"
	Unknown  Category = "unknown"
)

var allCategories = []Category{Brahmin, Chhetri, Janajati, Dalit, Madhesi, Muslim, Other, Unknown}

// All returns every category in display order.
func All() []Category {
	out := make([]Category, len(allCategories))
	copy(out, allCategories)
	return out
}

// Valid reports whether c is one of the fixed categories.
func (c Category) Valid() bool {
	for _, v := range allCategories {
		if c == v {
			return true
		}
	}
	return false
}

func (c Category) String() string { return string(c) }

// ParseCategory parses a category name case-insensitively.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown caste category %q", s)
	}
	return c, nil
}
