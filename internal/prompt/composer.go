package prompt

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"golang.org/x/text/unicode/norm"

	"genstudio/internal/domain"
)

// Flags are the request facts the composer branches on.
type Flags struct {
	TemplateRules  []string
	HasTemplate    bool
	HasSubject     bool
	SubjectMode    domain.SubjectMode
	SubjectLock    bool
	KeepOutfit     bool
	ForceCutout    bool
	OutfitText     string
	IndustryIntent string
	Instructions   string
	HasLogo        bool
	Copy           domain.CopyFields
	Locale         string
	AspectRatio    string
}

// FlagsFromRequest derives composer flags from a request and the rules of its
// template, if the template is known.
func FlagsFromRequest(req domain.GenerationRequest, tpl *domain.TemplateRules) Flags {
	_, hasSubject := req.Subject()
	f := Flags{
		HasTemplate:    req.HasTemplateImage(),
		HasSubject:     hasSubject,
		SubjectMode:    req.SubjectMode,
		SubjectLock:    req.SubjectLock,
		KeepOutfit:     req.KeepOutfit,
		ForceCutout:    req.ForceCutout,
		OutfitText:     strings.TrimSpace(req.OutfitText),
		IndustryIntent: strings.TrimSpace(req.IndustryIntent),
		Instructions:   strings.TrimSpace(req.Instructions),
		HasLogo:        req.Logo != nil && !req.Logo.IsZero(),
		Copy:           req.Copy,
		Locale:         req.Locale,
		AspectRatio:    req.AspectRatio,
	}
	if req.Template != nil && tpl != nil {
		f.TemplateRules = tpl.Rules
		if f.SubjectMode == "" {
			f.SubjectMode = tpl.SubjectMode
		}
	}
	return f
}

// DistinctSubject reports whether a template and a separate subject image are
// both present, which calls for compositing.
func (f Flags) DistinctSubject() bool {
	return f.HasTemplate && f.HasSubject
}

// OutfitLocked reports whether the subject's clothing must be preserved. An
// industry switch or an explicit outfit relaxes the lock.
func OutfitLocked(f Flags) bool {
	return f.KeepOutfit && f.IndustryIntent == "" && f.OutfitText == ""
}

type rule struct {
	name string
	when func(Flags) bool
	emit func(*Library, Flags) []string
}

// rules are evaluated in order; later fragments carry more weight with the models.
var rules = []rule{
	{
		name: "global",
		when: func(Flags) bool { return true },
		emit: func(l *Library, _ Flags) []string { return l.Global },
	},
	{
		name: "template",
		when: func(f Flags) bool { return f.HasTemplate && len(f.TemplateRules) > 0 },
		emit: func(_ *Library, f Flags) []string { return f.TemplateRules },
	},
	{
		name: "subject",
		when: func(f Flags) bool { return f.SubjectMode != "" },
		emit: func(l *Library, f Flags) []string {
			if f.SubjectMode == domain.SubjectNonHuman {
				return l.Subject.NonHuman
			}
			return l.Subject.Human
		},
	},
	{
		name: "identity",
		when: func(f Flags) bool { return f.HasSubject && f.SubjectLock },
		emit: func(l *Library, f Flags) []string {
			var out []string
			human := f.SubjectMode != domain.SubjectNonHuman
			if human {
				out = append(out, l.Identity.Lock...)
			}
			if f.ForceCutout || !human {
				out = append(out, l.Identity.Cutout...)
			}
			if human && OutfitLocked(f) {
				out = append(out, l.Identity.OutfitLock)
			}
			return out
		},
	},
	{
		name: "outfit",
		when: func(f Flags) bool { return f.HasSubject && f.OutfitText != "" },
		emit: func(l *Library, _ Flags) []string { return []string{l.Outfit.Override} },
	},
	{
		name: "industry",
		when: func(f Flags) bool { return f.IndustryIntent != "" },
		emit: func(l *Library, f Flags) []string {
			out := []string{l.Industry.Switch}
			if f.OutfitText == "" {
				out = append(out, l.Industry.Attire)
			}
			return out
		},
	},
	{
		name: "instructions",
		when: func(f Flags) bool { return f.Instructions != "" || f.DistinctSubject() },
		emit: func(l *Library, f Flags) []string {
			var out []string
			if f.DistinctSubject() {
				if f.ForceCutout || f.SubjectMode == domain.SubjectNonHuman {
					out = append(out, l.Directives.Cutout)
				} else {
					out = append(out, l.Directives.FaceSwap)
				}
			}
			if f.Instructions != "" {
				out = append(out, l.Directives.InstructionsLabel)
			}
			return out
		},
	},
	{
		name: "brand",
		when: func(f Flags) bool { return f.HasLogo },
		emit: func(l *Library, _ Flags) []string { return []string{l.Brand.Logo} },
	},
	{
		name: "text",
		when: func(f Flags) bool { return !f.Copy.IsZero() },
		emit: func(l *Library, f Flags) []string {
			out := []string{l.Text.Header}
			labels := l.Text.Fields
			for _, field := range []struct{ label, key, value string }{
				{labels.Headline, "{copy.headline}", f.Copy.Headline},
				{labels.Subheadline, "{copy.subheadline}", f.Copy.Subheadline},
				{labels.CTA, "{copy.cta}", f.Copy.CTA},
				{labels.Promotion, "{copy.promotion}", f.Copy.Promotion},
				{labels.BusinessName, "{copy.business_name}", f.Copy.BusinessName},
			} {
				if strings.TrimSpace(field.value) != "" {
					out = append(out, field.label+": \""+field.key+"\"")
				}
			}
			if f.IndustryIntent != "" && l.Text.IndustryWording != "" {
				out = append(out, l.Text.IndustryWording)
			}
			return append(out, l.Text.Language)
		},
	},
	{
		name: "aspect",
		when: func(f Flags) bool { return f.AspectRatio != "" },
		emit: func(l *Library, _ Flags) []string { return []string{l.Aspect} },
	},
}

// Compose renders the instruction text for f. The result depends only on lib
// and f. User text enters only through placeholders and the replacer makes a
// single pass, so placeholders typed by the user stay literal.
func Compose(lib *Library, f Flags) string {
	if lib == nil {
		return ""
	}
	f = normalizeFlags(f)
	fill := strings.NewReplacer(
		"{industry}", f.IndustryIntent,
		"{outfit}", f.OutfitText,
		"{instructions}", f.Instructions,
		"{ratio}", f.AspectRatio,
		"{language}", LanguageName(f.Locale),
		"{copy.headline}", f.Copy.Headline,
		"{copy.subheadline}", f.Copy.Subheadline,
		"{copy.cta}", f.Copy.CTA,
		"{copy.promotion}", f.Copy.Promotion,
		"{copy.business_name}", f.Copy.BusinessName,
	)
	var parts []string
	for _, r := range rules {
		if !r.when(f) {
			continue
		}
		for _, fragment := range r.emit(lib, f) {
			if fragment = strings.TrimSpace(fragment); fragment != "" {
				parts = append(parts, fill.Replace(fragment))
			}
		}
	}
	return norm.NFC.String(strings.Join(parts, "\n"))
}

// Applied lists the names of the rule groups that fire for f, in order.
func Applied(f Flags) []string {
	f = normalizeFlags(f)
	var names []string
	for _, r := range rules {
		if r.when(f) {
			names = append(names, r.name)
		}
	}
	return names
}

// LanguageName returns the English name of a locale's language, falling back
// to English for unparseable input.
func LanguageName(locale string) string {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil || tag == language.Und {
		return "English"
	}
	base, _ := tag.Base()
	name := display.English.Languages().Name(language.Make(base.String()))
	if name == "" {
		return "English"
	}
	return name
}

func normalizeFlags(f Flags) Flags {
	f.OutfitText = norm.NFC.String(strings.TrimSpace(f.OutfitText))
	f.IndustryIntent = norm.NFC.String(strings.TrimSpace(f.IndustryIntent))
	f.Instructions = norm.NFC.String(strings.TrimSpace(f.Instructions))
	f.AspectRatio = strings.TrimSpace(f.AspectRatio)
	f.Copy.Headline = norm.NFC.String(strings.TrimSpace(f.Copy.Headline))
	f.Copy.Subheadline = norm.NFC.String(strings.TrimSpace(f.Copy.Subheadline))
	f.Copy.CTA = norm.NFC.String(strings.TrimSpace(f.Copy.CTA))
	f.Copy.Promotion = norm.NFC.String(strings.TrimSpace(f.Copy.Promotion))
	f.Copy.BusinessName = norm.NFC.String(strings.TrimSpace(f.Copy.BusinessName))
	return f
}
