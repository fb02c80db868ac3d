package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trxundo/pages"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, uint16(pages.PageSize/4), cfg.PageReuseLimit)
	assert.Equal(t, uint32(0xFFFFFFFE), cfg.RsegMaxSize)
	assert.False(t, cfg.DegradedStartup)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.ini")
	require.NoError(t, os.WriteFile(path, []byte(`
[undo]
page_reuse_limit = 512
rseg_max_size = 1000
degraded_startup = true
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint16(512), cfg.PageReuseLimit)
	assert.Equal(t, uint32(1000), cfg.RsegMaxSize)
	assert.True(t, cfg.DegradedStartup)
}

func TestLoad_PartialSectionKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.ini")
	require.NoError(t, os.WriteFile(path, []byte("[undo]\nrseg_max_size = 7\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), cfg.RsegMaxSize)
	assert.Equal(t, Default().PageReuseLimit, cfg.PageReuseLimit)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.ini"))
	assert.Error(t, err)
	assert.Equal(t, Default(), cfg)
}
