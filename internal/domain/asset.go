package domain

import "strings"

// MediaKind enumerates output media types. Only images are generated here.
type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindVideo MediaKind = "video"
)

// MediaRef points at an input image either by URL or by uploaded bytes.
type MediaRef struct {
	URL      string
	Data     []byte
	MIME     string
	Filename string
}

// IsZero reports whether the reference carries neither a URL nor bytes.
func (m MediaRef) IsZero() bool {
	return strings.TrimSpace(m.URL) == "" && len(m.Data) == 0
}

// HasBytes reports whether the reference was uploaded inline.
func (m MediaRef) HasBytes() bool {
	return len(m.Data) > 0
}

// SameAs reports whether two references point at the same URL. Inline uploads
// are always distinct.
func (m MediaRef) SameAs(other MediaRef) bool {
	a := strings.TrimSpace(m.URL)
	b := strings.TrimSpace(other.URL)
	return a != "" && a == b
}

// TemplateRef is a compositional blueprint the output should follow.
type TemplateRef struct {
	ID    string
	Image MediaRef
}
