package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Category names a bucket of third-party script behaviour that can be granted
// or revoked independently. The set is closed.
type Category string

const (
	CategoryNecessary       Category = "necessary"
	CategoryFunctional      Category = "functional"
	CategoryAnalytics       Category = "analytics"
	CategoryMarketing       Category = "marketing"
	CategoryPersonalization Category = "personalization"
)

// categoryAliasEssential is accepted on input as a synonym for necessary.
const categoryAliasEssential = "essential"

// OptionalCategories lists every category a visitor may toggle, in display order.
var OptionalCategories = []Category{
	CategoryFunctional,
	CategoryAnalytics,
	CategoryMarketing,
	CategoryPersonalization,
}

// AllCategories returns necessary followed by the optional categories.
func AllCategories() []Category {
	return append([]Category{CategoryNecessary}, OptionalCategories...)
}

// ParseCategory converts user input into a Category.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(CategoryNecessary), categoryAliasEssential:
		return CategoryNecessary, nil
	case string(CategoryFunctional):
		return CategoryFunctional, nil
	case string(CategoryAnalytics):
		return CategoryAnalytics, nil
	case string(CategoryMarketing):
		return CategoryMarketing, nil
	case string(CategoryPersonalization):
		return CategoryPersonalization, nil
	default:
		return "", fmt.Errorf("unknown consent category %q", s)
	}
}

// IsValid reports whether c is one of the known categories.
func (c Category) IsValid() bool {
	switch c {
	case CategoryNecessary, CategoryFunctional, CategoryAnalytics, CategoryMarketing, CategoryPersonalization:
		return true
	default:
		return false
	}
}

// IsOptional reports whether the category can be revoked.
func (c Category) IsOptional() bool {
	return c.IsValid() && c != CategoryNecessary
}

func (c Category) String() string {
	return string(c)
}

// Categories holds one flag per optional category. Necessary has no field:
// it is granted unconditionally and cannot be represented as false.
type Categories struct {
	Functional      bool
	Analytics       bool
	Marketing       bool
	Personalization bool
}

// Get reports whether a category is granted.
func (c Categories) Get(category Category) bool {
	switch category {
	case CategoryNecessary:
		return true
	case CategoryFunctional:
		return c.Functional
	case CategoryAnalytics:
		return c.Analytics
	case CategoryMarketing:
		return c.Marketing
	case CategoryPersonalization:
		return c.Personalization
	default:
		return false
	}
}

// With returns a copy with category set to granted. Attempts to change
// necessary, or to set unknown categories, are ignored.
func (c Categories) With(category Category, granted bool) Categories {
	switch category {
	case CategoryFunctional:
		c.Functional = granted
	case CategoryAnalytics:
		c.Analytics = granted
	case CategoryMarketing:
		c.Marketing = granted
	case CategoryPersonalization:
		c.Personalization = granted
	}
	return c
}

// AnyOptional reports whether at least one optional category is granted.
func (c Categories) AnyOptional() bool {
	for _, category := range OptionalCategories {
		if c.Get(category) {
			return true
		}
	}
	return false
}

// AllOptional reports whether every optional category is granted.
func (c Categories) AllOptional() bool {
	for _, category := range OptionalCategories {
		if !c.Get(category) {
			return false
		}
	}
	return true
}

// Map returns the flags keyed by category, necessary included.
func (c Categories) Map() map[Category]bool {
	out := make(map[Category]bool, len(OptionalCategories)+1)
	for _, category := range AllCategories() {
		out[category] = c.Get(category)
	}
	return out
}

// Names returns the flags keyed by category name, necessary included.
func (c Categories) Names() map[string]bool {
	out := make(map[string]bool, len(OptionalCategories)+1)
	for category, granted := range c.Map() {
		out[string(category)] = granted
	}
	return out
}

// CategoriesFromNames builds Categories from a name->flag map. Missing
// categories are not granted; unknown names are an error.
func CategoriesFromNames(raw map[string]bool) (Categories, error) {
	patch, err := ParsePatch(raw)
	if err != nil {
		return Categories{}, err
	}
	var out Categories
	for category, granted := range patch {
		out = out.With(category, granted)
	}
	return out, nil
}

// GrantAll returns a Categories value with every optional category granted.
func GrantAll() Categories {
	var c Categories
	for _, category := range OptionalCategories {
		c = c.With(category, true)
	}
	return c
}

// MarshalJSON writes the storage layout: necessary first, then every
// optional category in display order.
func (c Categories) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, category := range AllCategories() {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:%t", category, c.Get(category))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the storage layout. The necessary/essential flag is
// ignored (always true) and unknown keys are skipped.
func (c *Categories) UnmarshalJSON(data []byte) error {
	var raw map[string]bool
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Categories
	for name, granted := range raw {
		category, err := ParseCategory(name)
		if err != nil {
			continue
		}
		out = out.With(category, granted)
	}
	*c = out
	return nil
}

// Patch is a partial update of category flags.
type Patch map[Category]bool

// ParsePatch converts a name->flag map from the transport layer into a Patch.
func ParsePatch(raw map[string]bool) (Patch, error) {
	patch := make(Patch, len(raw))
	for name, granted := range raw {
		category, err := ParseCategory(name)
		if err != nil {
			return nil, err
		}
		patch[category] = granted
	}
	return patch, nil
}
