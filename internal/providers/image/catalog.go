package image

import (
	"sort"
	"strings"
)

// Provider names.
const (
	ProviderNanoBanana = "nanobanana"
	ProviderFal        = "fal"
	ProviderGemini     = "gemini"
)

// Model describes one selectable model. MinInputs > 0 marks edit-only models.
type Model struct {
	ID           string
	Provider     string
	Kind         Kind
	MinInputs    int
	MaxInputs    int
	UsesStrength bool
	// TextFallback is used when an edit-only model is called without images.
	TextFallback string
	// EditVariant is used when a text-only model is called with images.
	EditVariant string
}

// EditOnly reports whether the model needs at least one input image.
func (m Model) EditOnly() bool { return m.MinInputs > 0 }

// TextOnly reports whether the model ignores input images.
func (m Model) TextOnly() bool { return m.MaxInputs == 0 }

// MultiImage reports whether the model composites several inputs.
func (m Model) MultiImage() bool { return m.MaxInputs > 1 }

// Catalog is the set of models the gateway may route to.
type Catalog struct {
	models map[string]Model
}

// NewCatalog indexes models by lowercase id.
func NewCatalog(models ...Model) *Catalog {
	c := &Catalog{models: make(map[string]Model, len(models))}
	for _, m := range models {
		c.models[strings.ToLower(m.ID)] = m
	}
	return c
}

// DefaultCatalog lists the models this service ships with. geminiModel names
// the Gemini image model.
func DefaultCatalog(geminiModel string) *Catalog {
	if strings.TrimSpace(geminiModel) == "" {
		geminiModel = "gemini-2.5-flash-image"
	}
	return NewCatalog(
		Model{ID: "nano-banana", Provider: ProviderNanoBanana, Kind: KindSync, EditVariant: "nano-banana-edit"},
		Model{ID: "nano-banana-edit", Provider: ProviderNanoBanana, Kind: KindSync, MinInputs: 1, MaxInputs: 4, TextFallback: "nano-banana"},
		Model{ID: "flux-dev", Provider: ProviderFal, Kind: KindQueue, EditVariant: "flux-dev-i2i"},
		Model{ID: "flux-dev-i2i", Provider: ProviderFal, Kind: KindQueue, MinInputs: 1, MaxInputs: 1, UsesStrength: true, TextFallback: "flux-dev"},
		Model{ID: geminiModel, Provider: ProviderGemini, Kind: KindSync, MaxInputs: 3},
	)
}

// Lookup returns the model registered under id.
func (c *Catalog) Lookup(id string) (Model, bool) {
	if c == nil {
		return Model{}, false
	}
	m, ok := c.models[strings.ToLower(strings.TrimSpace(id))]
	return m, ok
}

// IDs returns every registered model id, sorted.
func (c *Catalog) IDs() []string {
	ids := make([]string, 0, len(c.models))
	for _, m := range c.models {
		ids = append(ids, m.ID)
	}
	sort.Strings(ids)
	return ids
}
