package scripts

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/platform/config"
	dErrors "github.com/thupa-pro/lipo-sub001/pkg/domain-errors"
)

// Provider is one third-party script gated by a consent category.
type Provider struct {
	ID       string          `json:"id"`
	Category models.Category `json:"category"`
	Src      string          `json:"src"`
	Async    bool            `json:"async"`
}

// Handle identifies an inserted script by category and provider.
type Handle struct {
	Category   models.Category
	ProviderID string
}

func (h Handle) String() string {
	return string(h.Category) + "/" + h.ProviderID
}

// Catalog lists the providers of each optional category.
type Catalog struct {
	byCategory map[models.Category][]Provider
	byHandle   map[Handle]Provider
}

// NewCatalog validates providers and indexes them. Providers must belong to
// an optional category; necessary scripts are not consent-gated.
func NewCatalog(providers []Provider) (*Catalog, error) {
	c := &Catalog{
		byCategory: make(map[models.Category][]Provider),
		byHandle:   make(map[Handle]Provider, len(providers)),
	}
	for _, p := range providers {
		if err := p.validate(); err != nil {
			return nil, err
		}
		h := Handle{Category: p.Category, ProviderID: p.ID}
		if _, dup := c.byHandle[h]; dup {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("duplicate script provider %s", h))
		}
		c.byHandle[h] = p
		c.byCategory[p.Category] = append(c.byCategory[p.Category], p)
	}
	return c, nil
}

func (p Provider) validate() error {
	if p.ID == "" {
		return dErrors.New(dErrors.CodeValidation, "script provider id is required")
	}
	if !p.Category.IsOptional() {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("script provider %s: category %q is not an optional category", p.ID, p.Category))
	}
	u, err := url.Parse(p.Src)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("script provider %s: src must be an absolute http(s) URL", p.ID))
	}
	return nil
}

// For returns the providers of category in catalog order.
func (c *Catalog) For(category models.Category) []Provider {
	return slices.Clone(c.byCategory[category])
}

// Lookup returns the provider behind handle.
func (c *Catalog) Lookup(h Handle) (Provider, bool) {
	p, ok := c.byHandle[h]
	return p, ok
}

// Providers returns every provider grouped by category order.
func (c *Catalog) Providers() []Provider {
	var out []Provider
	for _, category := range models.OptionalCategories {
		out = append(out, c.byCategory[category]...)
	}
	return out
}

// NewConfiguredCatalog builds the catalog from configured scripts, falling
// back to DefaultProviders when none are configured.
func NewConfiguredCatalog(entries []config.Script) (*Catalog, error) {
	if len(entries) == 0 {
		return NewCatalog(DefaultProviders())
	}
	providers := make([]Provider, 0, len(entries))
	for _, e := range entries {
		category, err := models.ParseCategory(e.Category)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("script provider %s: unknown category %q", e.ID, e.Category))
		}
		providers = append(providers, Provider{ID: e.ID, Category: category, Src: e.Src, Async: e.Async})
	}
	return NewCatalog(providers)
}

// DefaultProviders is the catalog used when configuration names none.
func DefaultProviders() []Provider {
	return []Provider{
		{ID: "intercom", Category: models.CategoryFunctional, Src: "https://widget.intercom.io/widget/app", Async: true},
		{ID: "google-analytics", Category: models.CategoryAnalytics, Src: "https://www.googletagmanager.com/gtag/js", Async: true},
		{ID: "meta-pixel", Category: models.CategoryMarketing, Src: "https://connect.facebook.net/en_US/fbevents.js", Async: true},
		{ID: "optimizely", Category: models.CategoryPersonalization, Src: "https://cdn.optimizely.com/js/project.js"},
	}
}
