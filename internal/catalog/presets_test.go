package catalog

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/fentz26/qgate/internal/config"
	"github.com/fentz26/qgate/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuickSelect_Scenario(t *testing.T) {
	r := newScenarioResolver(t)
	files := r.ListFiles(context.Background())
	cfg := config.Default().Catalog

	tests := []struct {
		preset Preset
		want   []int
	}{
		{PresetAll, []int{1, 2, 3}},
		{PresetLarge, []int{2}},
		{PresetBackend, []int{1}},
		{PresetFrontend, []int{2}},
		{PresetCSS, []int{3}},
		{PresetCritical, []int{1, 2, 3}},
		{PresetRecommended, []int{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(string(tt.preset), func(t *testing.T) {
			got, err := QuickSelect(files, tt.preset, cfg)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQuickSelect_FixedCounts(t *testing.T) {
	var files []models.FileDescriptor
	for i := 1; i <= 20; i++ {
		files = append(files, models.FileDescriptor{ID: i, Path: fmt.Sprintf("f%02d.py", i), Type: models.FileTypePython})
	}
	cfg := config.Default().Catalog

	critical, err := QuickSelect(files, PresetCritical, cfg)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, critical)

	recommended, err := QuickSelect(files, PresetRecommended, cfg)
	require.NoError(t, err)
	assert.Len(t, recommended, 12)
	assert.Equal(t, 12, recommended[len(recommended)-1])

	again, err := QuickSelect(files, PresetCritical, cfg)
	require.NoError(t, err)
	assert.Equal(t, critical, again)
}

func TestQuickSelect_EmptyCatalog(t *testing.T) {
	ids, err := QuickSelect(nil, PresetAll, config.Default().Catalog)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestQuickSelect_Unknown(t *testing.T) {
	_, err := QuickSelect(nil, Preset("huge"), config.Default().Catalog)
	assert.True(t, errors.Is(err, ErrUnknownPreset))
}

func TestParsePreset(t *testing.T) {
	tests := map[string]Preset{
		"all":           PresetAll,
		"large":         PresetLarge,
		"backend-only":  PresetBackend,
		"frontend-only": PresetFrontend,
		"css-only":      PresetCSS,
		"0":             PresetAll,
		"99":            PresetCritical,
		"98":            PresetLarge,
		"95":            PresetRecommended,
		"94":            PresetCSS,
	}
	for in, want := range tests {
		got, err := ParsePreset(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "huge", "42"} {
		_, err := ParsePreset(bad)
		assert.ErrorIs(t, err, ErrUnknownPreset, bad)
	}
}
