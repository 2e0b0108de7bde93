package image

import "genstudio/internal/prompt"

const (
	StrengthIndustrySwitch = 1.0
	StrengthRestyle        = 0.93
	StrengthPreserve       = 0.85
	StrengthDefault        = 0.9
)

// Strength derives how far the output may diverge from the input image.
// The first matching rule wins:
//  1. industry switch regenerates the scene;
//  2. explicit outfit, or cutout without keeping the outfit, restyles;
//  3. identity lock with the outfit still locked preserves;
//  4. anything else uses the default.
func Strength(f prompt.Flags) float64 {
	switch {
	case f.IndustryIntent != "":
		return StrengthIndustrySwitch
	case f.OutfitText != "", f.ForceCutout && !f.KeepOutfit:
		return StrengthRestyle
	case f.SubjectLock && prompt.OutfitLocked(f):
		return StrengthPreserve
	default:
		return StrengthDefault
	}
}

// Dimensions maps an aspect ratio onto pixel sizes with a 1024px long edge.
func Dimensions(ratio string) (int, int) {
	switch ratio {
	case "4:5":
		return 819, 1024
	case "3:4":
		return 768, 1024
	case "2:3":
		return 683, 1024
	case "9:16":
		return 576, 1024
	case "3:2":
		return 1024, 683
	case "4:3":
		return 1024, 768
	case "16:9":
		return 1024, 576
	default:
		return 1024, 1024
	}
}
