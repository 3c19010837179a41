package challenge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctf-range/pkg/models"
)

func TestLoadCatalogFromDir(t *testing.T) {
	dir := t.TempDir()
	webDir := filepath.Join(dir, "web")
	require.NoError(t, os.Mkdir(webDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(webDir, "sqli.json"), []byte(`{
		"id": "web-sqli-01",
		"title": "Login Bypass",
		"category": "web",
		"difficulty": "beginner",
		"points": 100,
		"flag": "flag{sqli_basics}"
	}`), 0o644))

	cat, err := LoadCatalog(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, cat.Len())

	c, ok := cat.Get("web-sqli-01")
	require.True(t, ok)
	assert.Equal(t, 100, c.Points)
}

func TestLoadCatalogMissingDir(t *testing.T) {
	cat, err := LoadCatalog(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Equal(t, 0, cat.Len())
}

func TestLoadCatalogRejectsMalformedEntry(t *testing.T) {
	dir := t.TempDir()
	webDir := filepath.Join(dir, "web")
	require.NoError(t, os.Mkdir(webDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(webDir, "bad.json"), []byte(`{
		"id": "web-bad-01",
		"title": "Bad",
		"category": "web",
		"difficulty": "beginner",
		"points": 100,
		"flag": "not-a-flag"
	}`), 0o644))

	_, err := LoadCatalog(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flag")
}

func TestNewCatalogValidation(t *testing.T) {
	base := models.Challenge{
		ID:         "web-x",
		Title:      "X",
		Category:   "web",
		Difficulty: "beginner",
		Points:     10,
		Flag:       "flag{x}",
	}

	tests := []struct {
		name   string
		mutate func(c *models.Challenge)
	}{
		{"missing id", func(c *models.Challenge) { c.ID = "" }},
		{"missing title", func(c *models.Challenge) { c.Title = "" }},
		{"bad category", func(c *models.Challenge) { c.Category = "hardware" }},
		{"bad difficulty", func(c *models.Challenge) { c.Difficulty = "impossible" }},
		{"zero points", func(c *models.Challenge) { c.Points = 0 }},
		{"bad flag format", func(c *models.Challenge) { c.Flag = "FLAG{x}" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base
			tt.mutate(&c)
			_, err := NewCatalog([]models.Challenge{c})
			assert.Error(t, err)
		})
	}

	_, err := NewCatalog([]models.Challenge{base, base})
	assert.Error(t, err, "duplicate ids rejected")
}

func TestCatalogListing(t *testing.T) {
	cat, err := NewCatalog(testChallenges())
	require.NoError(t, err)

	assert.Equal(t, []string{"crypto", "web"}, cat.Categories())

	web := cat.ByCategory("web")
	require.Len(t, web, 1)
	assert.Empty(t, web[0].Flag, "listing must redact flags")
}
