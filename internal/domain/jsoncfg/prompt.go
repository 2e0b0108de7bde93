package jsoncfg

import (
	"encoding/base64"
	"fmt"
	"strings"

	"genstudio/internal/domain"
)

// ImageRefJSON references an input image by URL or by base64 payload.
type ImageRefJSON struct {
	URL        string `json:"url,omitempty"`
	DataBase64 string `json:"data_base64,omitempty"`
	MIME       string `json:"mime,omitempty"`
	Filename   string `json:"filename,omitempty"`
	// Data holds multipart file bytes; never read from JSON.
	Data []byte `json:"-"`
}

type TemplateJSON struct {
	ID    string       `json:"id"`
	Image ImageRefJSON `json:"image"`
}

type CopyJSON struct {
	Headline     string `json:"headline"`
	Subheadline  string `json:"subheadline"`
	CTA          string `json:"cta"`
	Promotion    string `json:"promotion"`
	BusinessName string `json:"business_name"`
}

type SubjectJSON struct {
	Lock        bool   `json:"lock"`
	Mode        string `json:"mode"`
	KeepOutfit  bool   `json:"keep_outfit"`
	ForceCutout bool   `json:"force_cutout"`
	Outfit      string `json:"outfit"`
}

// GenerateJSON is the wire contract of POST /generate. Multipart requests are
// decoded into the same structure.
type GenerateJSON struct {
	MediaKind    string         `json:"media_kind"`
	AspectRatio  string         `json:"aspect_ratio"`
	Model        string         `json:"model"`
	Instructions string         `json:"prompt"`
	References   []ImageRefJSON `json:"references"`
	Template     *TemplateJSON  `json:"template,omitempty"`
	Logo         *ImageRefJSON  `json:"logo,omitempty"`
	Copy         CopyJSON       `json:"copy"`
	Subject      SubjectJSON    `json:"subject"`
	Industry     string         `json:"industry"`
	Locale       string         `json:"locale"`
}

var allowedAspectRatios = map[string]struct{}{
	"1:1":  {},
	"4:5":  {},
	"3:4":  {},
	"2:3":  {},
	"3:2":  {},
	"4:3":  {},
	"16:9": {},
	"9:16": {},
}

const (
	// DefaultAspectRatio is used when the request omits the aspect ratio.
	DefaultAspectRatio = "1:1"
	// DefaultLocale is applied when no locale preference is provided.
	DefaultLocale = "en"
	// MaxInstructionLength bounds the free-text instructions.
	MaxInstructionLength = 2000
)

// IsAllowedAspectRatio reports whether ratio is one of the supported enum values.
func IsAllowedAspectRatio(ratio string) bool {
	_, ok := allowedAspectRatios[ratio]
	return ok
}

// Normalize applies server defaults.
func (g *GenerateJSON) Normalize(preferredLocale string) {
	if g == nil {
		return
	}
	g.MediaKind = strings.ToLower(strings.TrimSpace(g.MediaKind))
	if g.MediaKind == "" {
		g.MediaKind = string(domain.MediaKindImage)
	}
	g.AspectRatio = strings.TrimSpace(g.AspectRatio)
	if g.AspectRatio == "" {
		g.AspectRatio = DefaultAspectRatio
	}
	g.Model = strings.TrimSpace(g.Model)
	g.Instructions = strings.TrimSpace(g.Instructions)
	g.Industry = strings.TrimSpace(g.Industry)
	if strings.TrimSpace(g.Locale) == "" {
		if preferredLocale != "" {
			g.Locale = preferredLocale
		} else {
			g.Locale = DefaultLocale
		}
	}
}

// Validate checks the contract before any collaborator is called.
func (g GenerateJSON) Validate(maxReferences int) error {
	if g.MediaKind != string(domain.MediaKindImage) {
		return fmt.Errorf("media_kind %q is not supported", g.MediaKind)
	}
	if !IsAllowedAspectRatio(g.AspectRatio) {
		return fmt.Errorf("aspect_ratio must be one of 1:1, 4:5, 3:4, 2:3, 3:2, 4:3, 16:9, 9:16")
	}
	if maxReferences > 0 && len(g.References) > maxReferences {
		return fmt.Errorf("at most %d reference images are allowed", maxReferences)
	}
	if len([]rune(g.Instructions)) > MaxInstructionLength {
		return fmt.Errorf("prompt must be at most %d characters", MaxInstructionLength)
	}
	if mode := strings.TrimSpace(g.Subject.Mode); mode != "" && domain.NormalizeSubjectMode(mode) == "" {
		return fmt.Errorf("subject.mode must be human or non_human")
	}
	if g.Instructions == "" && len(g.References) == 0 && g.Template == nil && g.Industry == "" {
		return fmt.Errorf("prompt is required when no reference image is provided")
	}
	for i, ref := range g.References {
		if strings.TrimSpace(ref.URL) == "" && strings.TrimSpace(ref.DataBase64) == "" && len(ref.Data) == 0 {
			return fmt.Errorf("references[%d] needs url or data_base64", i)
		}
	}
	return nil
}

// MediaRef decodes the reference into its domain form.
func (r ImageRefJSON) MediaRef() (domain.MediaRef, error) {
	ref := domain.MediaRef{
		URL:      strings.TrimSpace(r.URL),
		MIME:     strings.TrimSpace(r.MIME),
		Filename: strings.TrimSpace(r.Filename),
	}
	if len(r.Data) > 0 {
		ref.Data = r.Data
		return ref, nil
	}
	if payload := strings.TrimSpace(r.DataBase64); payload != "" {
		if idx := strings.Index(payload, ";base64,"); idx >= 0 && strings.HasPrefix(payload, "data:") {
			if ref.MIME == "" {
				ref.MIME = payload[len("data:"):idx]
			}
			payload = payload[idx+len(";base64,"):]
		}
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return domain.MediaRef{}, fmt.Errorf("invalid base64 image: %w", err)
		}
		ref.Data = data
	}
	return ref, nil
}

// DecodedBytes returns the decoded size of every inline image.
func (g GenerateJSON) DecodedBytes() []int {
	var sizes []int
	add := func(r *ImageRefJSON) {
		if r == nil {
			return
		}
		if len(r.Data) > 0 {
			sizes = append(sizes, len(r.Data))
			return
		}
		if r.DataBase64 == "" {
			return
		}
		payload := r.DataBase64
		if idx := strings.Index(payload, ";base64,"); idx >= 0 {
			payload = payload[idx+len(";base64,"):]
		}
		sizes = append(sizes, base64.StdEncoding.DecodedLen(len(payload)))
	}
	for i := range g.References {
		add(&g.References[i])
	}
	if g.Template != nil {
		add(&g.Template.Image)
	}
	add(g.Logo)
	return sizes
}

// ToRequest converts the wire contract into a domain request.
func (g GenerateJSON) ToRequest(userID string) (domain.GenerationRequest, error) {
	req := domain.GenerationRequest{
		UserID:       userID,
		MediaKind:    domain.MediaKind(g.MediaKind),
		AspectRatio:  g.AspectRatio,
		Instructions: g.Instructions,
		Copy: domain.CopyFields{
			Headline:     strings.TrimSpace(g.Copy.Headline),
			Subheadline:  strings.TrimSpace(g.Copy.Subheadline),
			CTA:          strings.TrimSpace(g.Copy.CTA),
			Promotion:    strings.TrimSpace(g.Copy.Promotion),
			BusinessName: strings.TrimSpace(g.Copy.BusinessName),
		},
		SubjectLock:    g.Subject.Lock,
		SubjectMode:    domain.NormalizeSubjectMode(g.Subject.Mode),
		KeepOutfit:     g.Subject.KeepOutfit,
		ForceCutout:    g.Subject.ForceCutout,
		OutfitText:     strings.TrimSpace(g.Subject.Outfit),
		IndustryIntent: g.Industry,
		Model:          g.Model,
		Locale:         g.Locale,
	}
	for i, r := range g.References {
		ref, err := r.MediaRef()
		if err != nil {
			return domain.GenerationRequest{}, fmt.Errorf("references[%d]: %w", i, err)
		}
		req.References = append(req.References, ref)
	}
	if g.Template != nil && (strings.TrimSpace(g.Template.ID) != "" || g.Template.Image.URL != "" || g.Template.Image.DataBase64 != "" || len(g.Template.Image.Data) > 0) {
		img, err := g.Template.Image.MediaRef()
		if err != nil {
			return domain.GenerationRequest{}, fmt.Errorf("template: %w", err)
		}
		req.Template = &domain.TemplateRef{ID: strings.TrimSpace(g.Template.ID), Image: img}
	}
	if g.Logo != nil {
		logo, err := g.Logo.MediaRef()
		if err != nil {
			return domain.GenerationRequest{}, fmt.Errorf("logo: %w", err)
		}
		if !logo.IsZero() {
			req.Logo = &logo
		}
	}
	return req, nil
}
