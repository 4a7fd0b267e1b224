package renderconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate_RejectsZeroBlockSize(t *testing.T) {
	_, err := New(0, 100, 100, 1, false, nil)
	require.Error(t, err)
}

func TestValidate_RejectsZeroSizedViewport(t *testing.T) {
	_, err := New(16, 0, 100, 1, false, nil)
	require.Error(t, err)

	_, err = New(16, 100, 0, 1, false, nil)
	require.Error(t, err)
}

func TestValidate_RejectsUnsupportedAntiAlias(t *testing.T) {
	_, err := New(16, 100, 100, 3, false, nil)
	require.Error(t, err)
}

func TestValidate_AcceptsEachSupportedAntiAliasLevel(t *testing.T) {
	for _, aa := range []int{1, 2, 4, 8} {
		cfg, err := New(16, 100, 100, aa, false, nil)
		require.NoError(t, err)
		require.Equal(t, aa, cfg.AntiAlias)
		require.Equal(t, "request", cfg.Source)
	}
}

func TestDefaults_AreValid(t *testing.T) {
	require.NoError(t, Defaults().Validate())
}

func TestLoader_FallsBackToDefaultsWithoutAFile(t *testing.T) {
	loader, err := NewLoader("")
	require.NoError(t, err)

	cfg := loader.Base()
	require.Equal(t, Defaults().BlockSize, cfg.BlockSize)
	require.Equal(t, Defaults().Width, cfg.Width)
	require.Equal(t, "default", cfg.Source)
}

func TestLoader_MissingFileIsNotAnError(t *testing.T) {
	_, err := NewLoader("/nonexistent/path/renderd.toml")
	require.NoError(t, err)
}
