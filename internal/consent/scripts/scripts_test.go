package scripts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thupa-pro/lipo-sub001/internal/consent/events"
	"github.com/thupa-pro/lipo-sub001/internal/consent/models"
	"github.com/thupa-pro/lipo-sub001/internal/consent/policy"
	"github.com/thupa-pro/lipo-sub001/internal/platform/config"
	dErrors "github.com/thupa-pro/lipo-sub001/pkg/domain-errors"
)

var fixedNow = time.Date(2026, 2, 14, 10, 0, 0, 0, time.UTC)

func defaultCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(DefaultProviders())
	require.NoError(t, err)
	return c
}

func optionalHandles(doc Document) []Handle {
	var out []Handle
	for _, h := range doc.Handles() {
		if h.Category.IsOptional() {
			out = append(out, h)
		}
	}
	return out
}

func TestNewCatalog_Validation(t *testing.T) {
	tests := []struct {
		name      string
		providers []Provider
	}{
		{name: "missing id", providers: []Provider{{Category: models.CategoryAnalytics, Src: "https://a.example/x.js"}}},
		{name: "necessary category", providers: []Provider{{ID: "core", Category: models.CategoryNecessary, Src: "https://a.example/x.js"}}},
		{name: "unknown category", providers: []Provider{{ID: "x", Category: "tracking", Src: "https://a.example/x.js"}}},
		{name: "relative src", providers: []Provider{{ID: "x", Category: models.CategoryAnalytics, Src: "/x.js"}}},
		{name: "javascript src", providers: []Provider{{ID: "x", Category: models.CategoryAnalytics, Src: "javascript:alert(1)"}}},
		{name: "duplicate", providers: []Provider{
			{ID: "x", Category: models.CategoryAnalytics, Src: "https://a.example/x.js"},
			{ID: "x", Category: models.CategoryAnalytics, Src: "https://b.example/x.js"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.providers)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

func TestNewConfiguredCatalog(t *testing.T) {
	t.Run("empty falls back to defaults", func(t *testing.T) {
		c, err := NewConfiguredCatalog(nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultProviders(), c.Providers())
	})

	t.Run("configured providers replace defaults", func(t *testing.T) {
		c, err := NewConfiguredCatalog([]config.Script{
			{ID: "plausible", Category: "analytics", Src: "https://plausible.io/js/script.js", Async: true},
			{ID: "hotjar", Category: "Personalization", Src: "https://static.hotjar.com/c/hotjar.js"},
		})
		require.NoError(t, err)
		assert.Equal(t, []Provider{
			{ID: "plausible", Category: models.CategoryAnalytics, Src: "https://plausible.io/js/script.js", Async: true},
			{ID: "hotjar", Category: models.CategoryPersonalization, Src: "https://static.hotjar.com/c/hotjar.js"},
		}, c.Providers())
		_, ok := c.Lookup(Handle{Category: models.CategoryAnalytics, ProviderID: "google-analytics"})
		assert.False(t, ok)
	})

	t.Run("invalid entries fail validation", func(t *testing.T) {
		for _, entry := range []config.Script{
			{ID: "x", Category: "tracking", Src: "https://a.example/x.js"},
			{ID: "x", Category: "essential", Src: "https://a.example/x.js"},
			{ID: "x", Category: "analytics", Src: "x.js"},
		} {
			_, err := NewConfiguredCatalog([]config.Script{entry})
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation), "%+v: %v", entry, err)
		}
	})
}

func TestCatalog_Order(t *testing.T) {
	c := defaultCatalog(t)
	var categories []models.Category
	for _, p := range c.Providers() {
		categories = append(categories, p.Category)
	}
	assert.Equal(t, models.OptionalCategories, categories)
}

func TestReconcile_AcceptAllInsertsEveryProvider(t *testing.T) {
	doc := NewHTMLDocument()
	loader := NewLoader(defaultCatalog(t), doc)
	p := policy.New("1", 0)

	res := loader.Reconcile(context.Background(), p.CreateAcceptAll(fixedNow))

	assert.Len(t, res.Inserted, len(DefaultProviders()))
	assert.Empty(t, res.Removed)
	rendered := doc.String()
	assert.Contains(t, rendered, `src="https://www.googletagmanager.com/gtag/js"`)
	assert.Contains(t, rendered, `data-consent-category="analytics"`)
	assert.Contains(t, rendered, `data-consent-provider="google-analytics"`)
}

func TestReconcile_IsIdempotent(t *testing.T) {
	doc := NewHTMLDocument()
	loader := NewLoader(defaultCatalog(t), doc)
	record := policy.New("1", 0).CreateAcceptAll(fixedNow)

	loader.Reconcile(context.Background(), record)
	before := doc.String()
	second := loader.Reconcile(context.Background(), record)

	assert.False(t, second.Changed())
	if diff := cmp.Diff(before, doc.String()); diff != "" {
		t.Errorf("second reconcile changed the document (-before +after):\n%s", diff)
	}
	assert.Equal(t, 1, strings.Count(doc.String(), `data-consent-provider="meta-pixel"`))
}

func TestReconcile_AcceptThenRejectLeavesNoOptionalScripts(t *testing.T) {
	doc := NewHTMLDocument()
	loader := NewLoader(defaultCatalog(t), doc)
	p := policy.New("1", 0)

	loader.Reconcile(context.Background(), p.CreateAcceptAll(fixedNow))
	require.NotEmpty(t, optionalHandles(doc))

	res := loader.Reconcile(context.Background(), p.CreateRejectNonEssential(fixedNow))

	assert.Empty(t, optionalHandles(doc))
	assert.Len(t, res.Removed, len(DefaultProviders()))
	assert.Empty(t, res.Inserted)
}

func TestReconcile_PartialGrant(t *testing.T) {
	doc := NewHTMLDocument()
	loader := NewLoader(defaultCatalog(t), doc)
	record := policy.Merge(policy.New("1", 0).CreateDefault(fixedNow), models.Patch{models.CategoryAnalytics: true}, fixedNow)

	loader.Reconcile(context.Background(), record)

	assert.Equal(t, []Handle{{Category: models.CategoryAnalytics, ProviderID: "google-analytics"}}, doc.Handles())
}

// recordingDocument logs the order of mutations and can fail inserts.
type recordingDocument struct {
	*HTMLDocument
	ops      []string
	failFor  map[string]bool
	attempts map[string]int
}

func newRecordingDocument() *recordingDocument {
	return &recordingDocument{HTMLDocument: NewHTMLDocument(), failFor: map[string]bool{}, attempts: map[string]int{}}
}

func (d *recordingDocument) Insert(h Handle, p Provider) error {
	d.attempts[h.ProviderID]++
	if d.failFor[h.ProviderID] {
		return errors.New("blocked by client")
	}
	d.ops = append(d.ops, "insert:"+h.String())
	return d.HTMLDocument.Insert(h, p)
}

func (d *recordingDocument) Remove(h Handle) {
	d.ops = append(d.ops, "remove:"+h.String())
	d.HTMLDocument.Remove(h)
}

func TestReconcile_RemovalsPrecedeInsertions(t *testing.T) {
	doc := newRecordingDocument()
	loader := NewLoader(defaultCatalog(t), doc)
	p := policy.New("1", 0)

	marketingOnly := policy.Merge(p.CreateDefault(fixedNow), models.Patch{models.CategoryMarketing: true}, fixedNow)
	analyticsOnly := policy.Merge(p.CreateDefault(fixedNow), models.Patch{models.CategoryAnalytics: true}, fixedNow)

	loader.Reconcile(context.Background(), marketingOnly)
	doc.ops = nil
	loader.Reconcile(context.Background(), analyticsOnly)

	assert.Equal(t, []string{
		"remove:marketing/meta-pixel",
		"insert:analytics/google-analytics",
	}, doc.ops)
}

func TestReconcile_InsertFailureIsSwallowedAndNotRetried(t *testing.T) {
	doc := newRecordingDocument()
	doc.failFor["google-analytics"] = true
	loader := NewLoader(defaultCatalog(t), doc)
	record := policy.New("1", 0).CreateAcceptAll(fixedNow)

	res := loader.Reconcile(context.Background(), record)

	assert.Equal(t, []Handle{{Category: models.CategoryAnalytics, ProviderID: "google-analytics"}}, res.Failed)
	assert.Len(t, res.Inserted, len(DefaultProviders())-1)
	assert.Equal(t, 1, doc.attempts["google-analytics"], "one attempt per pass")
	assert.False(t, doc.HTMLDocument.Has(Handle{Category: models.CategoryAnalytics, ProviderID: "google-analytics"}))
}

func TestReconcile_DropsUncataloguedScripts(t *testing.T) {
	page := `<html><head>
<script src="https://old.example/tracker.js" data-consent-category="analytics" data-consent-provider="retired"></script>
<script src="/app.js"></script>
</head><body></body></html>`
	doc, err := ParseHTMLDocument(strings.NewReader(page))
	require.NoError(t, err)
	loader := NewLoader(defaultCatalog(t), doc)

	res := loader.Reconcile(context.Background(), policy.New("1", 0).CreateAcceptAll(fixedNow))

	assert.Contains(t, res.Removed, Handle{Category: models.CategoryAnalytics, ProviderID: "retired"})
	rendered := doc.String()
	assert.NotContains(t, rendered, "old.example")
	assert.Contains(t, rendered, `src="/app.js"`, "unmanaged scripts are untouched")
}

func TestSession_FollowsVisitorEvents(t *testing.T) {
	bus := events.NewBus()
	doc := NewHTMLDocument()
	loader := NewLoader(defaultCatalog(t), doc)
	session := Follow(bus, loader, "v1")
	p := policy.New("1", 0)

	all := p.CreateAcceptAll(fixedNow)
	bus.Publish(context.Background(), models.Event{VisitorID: "v1", Status: models.StatusAccepted, Record: &all})
	assert.Len(t, doc.Handles(), len(DefaultProviders()))

	bus.Publish(context.Background(), models.Event{VisitorID: "someone-else", Status: models.StatusPending})
	assert.Len(t, doc.Handles(), len(DefaultProviders()))

	bus.Publish(context.Background(), models.Event{VisitorID: "v1", Status: models.StatusPending})
	assert.Empty(t, doc.Handles())

	session.Close()
	session.Close()
	bus.Publish(context.Background(), models.Event{VisitorID: "v1", Status: models.StatusAccepted, Record: &all})
	assert.Empty(t, doc.Handles())
}
