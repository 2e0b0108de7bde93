package domain

import (
	"strings"
	"time"
)

// SubjectMode tells the composer how to treat the subject reference.
type SubjectMode string

const (
	SubjectHuman    SubjectMode = "human"
	SubjectNonHuman SubjectMode = "non_human"
)

// NormalizeSubjectMode sanitizes free-form input. Unknown values yield "".
func NormalizeSubjectMode(mode string) SubjectMode {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "human", "person", "people":
		return SubjectHuman
	case "non_human", "non-human", "object", "product":
		return SubjectNonHuman
	default:
		return ""
	}
}

// CopyFields are the structured on-image texts.
type CopyFields struct {
	Headline     string
	Subheadline  string
	CTA          string
	Promotion    string
	BusinessName string
}

// IsZero reports whether every copy field is blank.
func (c CopyFields) IsZero() bool {
	return strings.TrimSpace(c.Headline) == "" &&
		strings.TrimSpace(c.Subheadline) == "" &&
		strings.TrimSpace(c.CTA) == "" &&
		strings.TrimSpace(c.Promotion) == "" &&
		strings.TrimSpace(c.BusinessName) == ""
}

// GenerationRequest is one user call to the orchestrator.
type GenerationRequest struct {
	UserID         string
	MediaKind      MediaKind
	AspectRatio    string
	References     []MediaRef
	Template       *TemplateRef
	Logo           *MediaRef
	Instructions   string
	Copy           CopyFields
	SubjectLock    bool
	SubjectMode    SubjectMode
	KeepOutfit     bool
	ForceCutout    bool
	OutfitText     string
	IndustryIntent string
	Model          string
	Locale         string
	Country        string
}

// Subject returns the first reference that is not the template image itself.
func (r GenerationRequest) Subject() (MediaRef, bool) {
	for _, ref := range r.References {
		if ref.IsZero() {
			continue
		}
		if r.Template != nil && ref.SameAs(r.Template.Image) {
			continue
		}
		return ref, true
	}
	return MediaRef{}, false
}

// HasTemplateImage reports whether a template blueprint image was supplied.
func (r GenerationRequest) HasTemplateImage() bool {
	return r.Template != nil && !r.Template.Image.IsZero()
}

// GenerationStatus captures how an attempt ended.
type GenerationStatus string

const (
	GenerationSucceeded GenerationStatus = "succeeded"
	GenerationFailed    GenerationStatus = "failed"
)

// GenerationRecord is the append-only provenance row written per attempt.
type GenerationRecord struct {
	ID         string
	UserID     string
	TemplateID *string
	SourceURL  *string
	ResultURL  *string
	Prompt     string
	Settings   GenerationSettings
	CreatedAt  time.Time
}

// GenerationSettings is persisted as JSON next to the record.
type GenerationSettings struct {
	Provider      string           `json:"provider"`
	Model         string           `json:"model"`
	InputImages   int              `json:"input_images"`
	AspectRatio   string           `json:"aspect_ratio"`
	Strength      float64          `json:"strength,omitempty"`
	JobID         string           `json:"job_id,omitempty"`
	Status        GenerationStatus `json:"status"`
	ErrorKind     ErrorKind        `json:"error_kind,omitempty"`
	OptimizedURL  string           `json:"optimized_url,omitempty"`
	Country       string           `json:"country,omitempty"`
	Locale        string           `json:"locale,omitempty"`
	ModelOverride bool             `json:"model_override,omitempty"`
}
