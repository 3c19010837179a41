package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 3, cfg.MaxLabsPerUser)
	assert.Equal(t, 50, cfg.MaxTotalLabs)
	assert.Equal(t, 4*time.Hour, cfg.LabTTL)
	assert.Equal(t, 30*time.Second, cfg.RuntimeTimeout)
	assert.Equal(t, 10, cfg.RateSoftLimit)
	assert.Equal(t, 15, cfg.RateWarnLimit)
	assert.Equal(t, 20, cfg.RateHardLimit)
	assert.Equal(t, 60, cfg.RateBlockSeconds)
	assert.Equal(t, "Operator", cfg.OperatorRole)
	assert.Equal(t, "Officer", cfg.OfficerRole)
	assert.Empty(t, cfg.AdminIDs)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LAB_MAX_PER_USER", "5")
	t.Setenv("LAB_TTL", "2h")
	t.Setenv("ADMIN_IDS", "id-1, id-2 ,")

	cfg := Load()
	assert.Equal(t, 5, cfg.MaxLabsPerUser)
	assert.Equal(t, 2*time.Hour, cfg.LabTTL)
	assert.Equal(t, []string{"id-1", "id-2"}, cfg.AdminIDs)
}

func TestLoadIgnoresMalformedEnv(t *testing.T) {
	t.Setenv("LAB_MAX_PER_USER", "many")
	t.Setenv("LAB_TTL", "soon")

	cfg := Load()
	assert.Equal(t, 3, cfg.MaxLabsPerUser)
	assert.Equal(t, 4*time.Hour, cfg.LabTTL)
}

func TestDefaultCatalogIsValid(t *testing.T) {
	catalog, err := LoadCatalog("")
	require.NoError(t, err)
	assert.Len(t, catalog, 6)

	dvwa, ok := catalog["dvwa"]
	require.True(t, ok)
	assert.Equal(t, 80, dvwa.Port)
	assert.Equal(t, "web", dvwa.Category)
	assert.Contains(t, dvwa.Tmpfs, "/tmp")
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"mini-lab": {
			"display_name": "Mini Lab",
			"image": "example/mini",
			"port": 8080,
			"category": "web",
			"difficulty": "beginner"
		}
	}`), 0o644))

	catalog, err := LoadCatalog(path)
	require.NoError(t, err)
	require.Len(t, catalog, 1)
	// Name defaults to the map key.
	assert.Equal(t, "mini-lab", catalog["mini-lab"].Name)
}

func TestLoadCatalogRejectsBadEntries(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing image", `{"x": {"port": 80, "category": "web", "difficulty": "beginner"}}`},
		{"bad port", `{"x": {"image": "i", "port": 0, "category": "web", "difficulty": "beginner"}}`},
		{"bad category", `{"x": {"image": "i", "port": 80, "category": "gui", "difficulty": "beginner"}}`},
		{"bad difficulty", `{"x": {"image": "i", "port": 80, "category": "web", "difficulty": "extreme"}}`},
		{"not json", `[]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "catalog.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o644))
			_, err := LoadCatalog(path)
			assert.Error(t, err)
		})
	}
}
