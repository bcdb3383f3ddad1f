package catalog

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/fentz26/qgate/internal/config"
	"github.com/fentz26/qgate/internal/models"
)

// Preset names a quick selection over a catalog snapshot.
type Preset string

const (
	PresetAll         Preset = "all"
	PresetCritical    Preset = "critical"
	PresetLarge       Preset = "large"
	PresetBackend     Preset = "backend"
	PresetFrontend    Preset = "frontend"
	PresetCSS         Preset = "css"
	PresetRecommended Preset = "recommended"
)

// ErrUnknownPreset is returned for preset names or option ids that do not exist.
var ErrUnknownPreset = errors.New("unknown preset")

// Dashboard option ids kept for clients of the original selection API.
var optionIDs = map[int]Preset{
	0:  PresetAll,
	99: PresetCritical,
	98: PresetLarge,
	97: PresetBackend,
	96: PresetFrontend,
	95: PresetRecommended,
	94: PresetCSS,
}

// Presets lists every preset in display order.
func Presets() []Preset {
	return []Preset{PresetAll, PresetCritical, PresetLarge, PresetBackend, PresetFrontend, PresetCSS, PresetRecommended}
}

// ParsePreset accepts a preset name, its "-only" alias, or a numeric option id.
func ParsePreset(s string) (Preset, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if p, ok := optionIDs[n]; ok {
			return p, nil
		}
		return "", fmt.Errorf("%w: option %d", ErrUnknownPreset, n)
	}
	switch s {
	case "backend-only":
		return PresetBackend, nil
	case "frontend-only":
		return PresetFrontend, nil
	case "css-only":
		return PresetCSS, nil
	}
	for _, p := range Presets() {
		if string(p) == s {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownPreset, s)
}

// QuickSelect returns the ids chosen by preset, in scan order. It depends only
// on files and cfg.
func QuickSelect(files []models.FileDescriptor, preset Preset, cfg config.CatalogConfig) ([]int, error) {
	var keep func(i int, f models.FileDescriptor) bool
	switch preset {
	case PresetAll:
		keep = func(int, models.FileDescriptor) bool { return true }
	case PresetCritical:
		keep = func(i int, _ models.FileDescriptor) bool { return i < cfg.CriticalCount }
	case PresetRecommended:
		keep = func(i int, _ models.FileDescriptor) bool { return i < cfg.RecommendedCount }
	case PresetLarge:
		keep = func(_ int, f models.FileDescriptor) bool { return f.Size > cfg.LargeThreshold }
	case PresetBackend:
		keep = func(_ int, f models.FileDescriptor) bool { return f.Type == models.FileTypePython }
	case PresetFrontend:
		keep = func(_ int, f models.FileDescriptor) bool { return f.Type == models.FileTypeJavaScript }
	case PresetCSS:
		keep = func(_ int, f models.FileDescriptor) bool { return f.Type == models.FileTypeCSS }
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, preset)
	}

	ids := []int{}
	for i, f := range files {
		if keep(i, f) {
			ids = append(ids, f.ID)
		}
	}
	return ids, nil
}
