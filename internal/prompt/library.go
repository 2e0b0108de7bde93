// Package prompt builds the instruction text sent to image providers from a
// fixed library of fragments and the flags of a generation request.
package prompt

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Library is the immutable set of named instruction fragments.
type Library struct {
	Global  []string `yaml:"global"`
	Subject struct {
		Human    []string `yaml:"human"`
		NonHuman []string `yaml:"non_human"`
	} `yaml:"subject"`
	Identity struct {
		Lock       []string `yaml:"lock"`
		OutfitLock string   `yaml:"outfit_lock"`
		Cutout     []string `yaml:"cutout"`
	} `yaml:"identity"`
	Outfit struct {
		Override string `yaml:"override"`
	} `yaml:"outfit"`
	Industry struct {
		Switch string `yaml:"switch"`
		Attire string `yaml:"attire"`
	} `yaml:"industry"`
	Directives struct {
		Cutout            string `yaml:"cutout"`
		FaceSwap          string `yaml:"face_swap"`
		InstructionsLabel string `yaml:"instructions_label"`
	} `yaml:"directives"`
	Brand struct {
		Logo string `yaml:"logo"`
	} `yaml:"brand"`
	Text struct {
		Header          string     `yaml:"header"`
		IndustryWording string     `yaml:"industry_wording"`
		Language        string     `yaml:"language"`
		Fields          TextLabels `yaml:"fields"`
	} `yaml:"text"`
	Aspect string `yaml:"aspect"`
}

// TextLabels names the structured copy fields in the text block.
type TextLabels struct {
	Headline     string `yaml:"headline"`
	Subheadline  string `yaml:"subheadline"`
	CTA          string `yaml:"cta"`
	Promotion    string `yaml:"promotion"`
	BusinessName string `yaml:"business_name"`
}

// Load parses a rule library document.
func Load(data []byte) (*Library, error) {
	var lib Library
	if err := yaml.Unmarshal(data, &lib); err != nil {
		return nil, fmt.Errorf("parse rule library: %w", err)
	}
	if err := lib.validate(); err != nil {
		return nil, err
	}
	return &lib, nil
}

func (l *Library) validate() error {
	required := map[string]string{
		"identity.outfit_lock":          l.Identity.OutfitLock,
		"outfit.override":               l.Outfit.Override,
		"industry.switch":               l.Industry.Switch,
		"industry.attire":               l.Industry.Attire,
		"directives.cutout":             l.Directives.Cutout,
		"directives.face_swap":          l.Directives.FaceSwap,
		"directives.instructions_label": l.Directives.InstructionsLabel,
		"brand.logo":                    l.Brand.Logo,
		"text.header":                   l.Text.Header,
		"text.language":                 l.Text.Language,
		"aspect":                        l.Aspect,
	}
	var missing []string
	for name, v := range required {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(l.Global) == 0 {
		missing = append(missing, "global")
	}
	if len(l.Identity.Lock) == 0 {
		missing = append(missing, "identity.lock")
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("rule library missing %s", strings.Join(missing, ", "))
	}
	return nil
}

var (
	defaultOnce sync.Once
	defaultLib  *Library
	defaultErr  error
)

// Default returns the embedded rule library, parsed once per process.
func Default() (*Library, error) {
	defaultOnce.Do(func() {
		defaultLib, defaultErr = Load(defaultRules)
	})
	return defaultLib, defaultErr
}

// MustDefault is Default for callers that cannot start without rules.
func MustDefault() *Library {
	lib, err := Default()
	if err != nil {
		panic(fmt.Errorf("prompt: embedded rules: %w", err))
	}
	return lib
}
