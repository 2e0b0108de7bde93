package image

import (
	"strings"

	"genstudio/internal/domain"
)

// Selection configures model routing.
type Selection struct {
	Default     string
	MultiImage  string
	TextToImage string
}

// SelectRequest carries the request facts routing depends on.
type SelectRequest struct {
	Requested       string
	Inputs          int
	DistinctSubject bool
}

// Choice is the routing outcome. Overridden is set when the caller's explicit
// model was replaced.
type Choice struct {
	Model      Model
	Overridden bool
	Reason     string
}

// Select picks the model for a request:
//   - template plus distinct subject always uses the multi-image model;
//   - otherwise the requested model, or the default;
//   - an edit-only model without inputs falls back to text-to-image;
//   - a text-only model with inputs moves to its edit variant.
func (c *Catalog) Select(cfg Selection, req SelectRequest) (Choice, error) {
	requested := strings.TrimSpace(req.Requested)
	id := requested
	if id == "" {
		id = cfg.Default
	}
	reason := ""
	if req.DistinctSubject && cfg.MultiImage != "" {
		id = cfg.MultiImage
		reason = "template_with_subject"
	}

	m, ok := c.Lookup(id)
	if !ok {
		return Choice{}, domain.Validation("unknown model %q", id)
	}

	switch {
	case req.Inputs == 0 && m.EditOnly():
		fallback := m.TextFallback
		if fallback == "" {
			fallback = cfg.TextToImage
		}
		fm, ok := c.Lookup(fallback)
		if !ok || fm.EditOnly() {
			return Choice{}, domain.Validation("model %q needs an input image", m.ID)
		}
		m, reason = fm, "no_input_images"
	case req.Inputs > 0 && m.TextOnly() && m.EditVariant != "":
		if em, ok := c.Lookup(m.EditVariant); ok {
			m, reason = em, "input_images"
		}
	}

	return Choice{
		Model:      m,
		Overridden: requested != "" && !strings.EqualFold(requested, m.ID),
		Reason:     reason,
	}, nil
}
