// Package challenge loads the static challenge catalog and scores flag
// submissions against it.
package challenge

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"ctf-range/internal/logging"
	"ctf-range/pkg/models"
)

var (
	validCategories   = map[string]bool{"web": true, "crypto": true, "forensics": true, "system": true, "misc": true}
	validDifficulties = map[string]bool{"beginner": true, "intermediate": true, "advanced": true}
)

// Catalog is the immutable set of challenges, loaded once at startup.
type Catalog struct {
	byID map[string]models.Challenge
}

// LoadCatalog reads every *.json under dir (one level of category
// subdirectories, matching the content layout) and validates each entry.
// Malformed content fails the load instead of being trusted at use-time.
func LoadCatalog(dir string) (*Catalog, error) {
	byID := map[string]models.Challenge{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			logging.L().Warn("challenges directory missing, starting with empty catalog",
				zap.String("dir", dir))
			return &Catalog{byID: byID}, nil
		}
		return nil, fmt.Errorf("read challenges dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		files, err := filepath.Glob(filepath.Join(dir, entry.Name(), "*.json"))
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			raw, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("read challenge %s: %w", path, err)
			}
			var c models.Challenge
			if err := json.Unmarshal(raw, &c); err != nil {
				return nil, fmt.Errorf("parse challenge %s: %w", path, err)
			}
			if err := validate(c); err != nil {
				return nil, fmt.Errorf("challenge %s: %w", path, err)
			}
			if _, dup := byID[c.ID]; dup {
				return nil, fmt.Errorf("duplicate challenge id %q in %s", c.ID, path)
			}
			byID[c.ID] = c
		}
	}

	logging.L().Info("challenge catalog loaded", zap.Int("count", len(byID)))
	return &Catalog{byID: byID}, nil
}

// NewCatalog builds a catalog from in-memory definitions (tests, seeds).
func NewCatalog(challenges []models.Challenge) (*Catalog, error) {
	byID := make(map[string]models.Challenge, len(challenges))
	for _, c := range challenges {
		if err := validate(c); err != nil {
			return nil, fmt.Errorf("challenge %q: %w", c.ID, err)
		}
		if _, dup := byID[c.ID]; dup {
			return nil, fmt.Errorf("duplicate challenge id %q", c.ID)
		}
		byID[c.ID] = c
	}
	return &Catalog{byID: byID}, nil
}

func validate(c models.Challenge) error {
	if c.ID == "" || c.Title == "" {
		return fmt.Errorf("id and title are required")
	}
	if !validCategories[c.Category] {
		return fmt.Errorf("unknown category %q", c.Category)
	}
	if !validDifficulties[c.Difficulty] {
		return fmt.Errorf("unknown difficulty %q", c.Difficulty)
	}
	if c.Points <= 0 {
		return fmt.Errorf("points must be positive")
	}
	if !strings.HasPrefix(c.Flag, "flag{") || !strings.HasSuffix(c.Flag, "}") {
		return fmt.Errorf("flag must look like flag{...}")
	}
	return nil
}

// Get returns a challenge by id.
func (cat *Catalog) Get(id string) (models.Challenge, bool) {
	c, ok := cat.byID[id]
	return c, ok
}

// Categories returns the distinct categories, sorted.
func (cat *Catalog) Categories() []string {
	seen := map[string]bool{}
	for _, c := range cat.byID {
		seen[c.Category] = true
	}
	out := make([]string, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out
}

// ByCategory returns redacted challenges in a category, points ascending.
func (cat *Catalog) ByCategory(category string) []models.Challenge {
	var out []models.Challenge
	for _, c := range cat.byID {
		if strings.EqualFold(c.Category, category) {
			out = append(out, c.Redacted())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Points != out[j].Points {
			return out[i].Points < out[j].Points
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len reports catalog size.
func (cat *Catalog) Len() int {
	return len(cat.byID)
}
