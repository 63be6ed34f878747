// Package catalog loads the static badge and achievement definitions.
// The catalog is read once at startup and never changes while running.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/gosimple/slug"
	"gopkg.in/yaml.v3"

	"finrank/internal/core"
)

//go:embed default.yaml
var defaultCatalog []byte

type (
	fileFormat struct {
		Badges       []badgeEntry       `yaml:"badges"`
		Achievements []achievementEntry `yaml:"achievements"`
	}

	badgeEntry struct {
		ID          string           `yaml:"id,omitempty"`
		Name        string           `yaml:"name"`
		Category    string           `yaml:"category"`
		Description string           `yaml:"description"`
		Rarity      string           `yaml:"rarity"`
		Requires    map[string]int64 `yaml:"requires"`
	}

	achievementEntry struct {
		ID          string `yaml:"id,omitempty"`
		Title       string `yaml:"title"`
		Description string `yaml:"description"`
		Metric      string `yaml:"metric"`
		Target      int64  `yaml:"target"`
	}
)

// Catalog holds the validated definitions.
type Catalog struct {
	Badges       []core.Badge
	Achievements []core.AchievementDef

	badgeByID map[string]core.Badge
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads the catalog at path, or the embedded one when path is empty.
func Load(path string) (*Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Catalog, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", core.ErrInvalidCatalog, err)
	}

	c := &Catalog{badgeByID: make(map[string]core.Badge, len(f.Badges))}
	for i, b := range f.Badges {
		badge, err := b.toBadge()
		if err != nil {
			return nil, fmt.Errorf("%w: badge #%d: %v", core.ErrInvalidCatalog, i+1, err)
		}
		if _, dup := c.badgeByID[badge.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate badge ID: %s", core.ErrInvalidCatalog, badge.ID)
		}
		c.badgeByID[badge.ID] = badge
		c.Badges = append(c.Badges, badge)
	}

	seen := make(map[string]bool, len(f.Achievements))
	for i, a := range f.Achievements {
		def, err := a.toDef()
		if err != nil {
			return nil, fmt.Errorf("%w: achievement #%d: %v", core.ErrInvalidCatalog, i+1, err)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("%w: duplicate achievement ID: %s", core.ErrInvalidCatalog, def.ID)
		}
		seen[def.ID] = true
		c.Achievements = append(c.Achievements, def)
	}
	return c, nil
}

// Badge looks up a badge definition by id.
func (c *Catalog) Badge(id string) (core.Badge, bool) {
	b, ok := c.badgeByID[id]
	return b, ok
}

func (b badgeEntry) toBadge() (core.Badge, error) {
	name := strings.TrimSpace(b.Name)
	if name == "" {
		return core.Badge{}, fmt.Errorf("name is required")
	}
	id := strings.TrimSpace(b.ID)
	if id == "" {
		id = slug.Make(name)
	}
	if !slug.IsSlug(id) {
		return core.Badge{}, fmt.Errorf("id %q is not a slug", id)
	}
	if len(b.Requires) == 0 {
		return core.Badge{}, fmt.Errorf("badge %s has no requirements", id)
	}
	req := make(map[core.Metric]int64, len(b.Requires))
	for key, v := range b.Requires {
		m, err := core.ParseMetric(key)
		if err != nil {
			return core.Badge{}, fmt.Errorf("badge %s: %w", id, err)
		}
		if v < 0 {
			return core.Badge{}, fmt.Errorf("badge %s: negative requirement for %s", id, key)
		}
		if m == core.MetricLeague && !core.League(v).Valid() {
			return core.Badge{}, fmt.Errorf("badge %s: league %d does not exist", id, v)
		}
		req[m] = v
	}
	return core.Badge{
		ID:          id,
		Name:        name,
		Category:    b.Category,
		Description: b.Description,
		Rarity:      b.Rarity,
		Requires:    req,
	}, nil
}

func (a achievementEntry) toDef() (core.AchievementDef, error) {
	title := strings.TrimSpace(a.Title)
	if title == "" {
		return core.AchievementDef{}, fmt.Errorf("title is required")
	}
	id := strings.TrimSpace(a.ID)
	if id == "" {
		id = slug.Make(title)
	}
	m, err := core.ParseMetric(a.Metric)
	if err != nil {
		return core.AchievementDef{}, fmt.Errorf("achievement %s: %w", id, err)
	}
	if a.Target <= 0 {
		return core.AchievementDef{}, fmt.Errorf("achievement %s: target must be positive", id)
	}
	return core.AchievementDef{
		ID:          id,
		Title:       title,
		Description: a.Description,
		Metric:      m,
		Target:      a.Target,
	}, nil
}
