package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"finrank/internal/core"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("default catalog invalid: %v", err)
	}
	if len(c.Badges) == 0 || len(c.Achievements) == 0 {
		t.Fatalf("expected badges and achievements, got %d/%d", len(c.Badges), len(c.Achievements))
	}
	b, ok := c.Badge("first-steps")
	if !ok {
		t.Fatalf("expected slugged id first-steps")
	}
	if b.Requires[core.MetricTransactions] != 1 {
		t.Fatalf("unexpected requirements %v", b.Requires)
	}
}

func TestDefaultCatalogHasNoBadgeForEmptyUser(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatal(err)
	}
	if ids := core.EvaluateBadges(core.NewUserState("u1", 1), c.Badges, nil); len(ids) != 0 {
		t.Fatalf("empty user unlocked %v", ids)
	}
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	cases := map[string]string{
		"duplicate badge": `
badges:
  - name: A
    requires: {transactions: 1}
  - id: a
    name: Other
    requires: {transactions: 2}
`,
		"unknown metric": `
badges:
  - name: A
    requires: {karma: 1}
`,
		"no requirements": `
badges:
  - name: A
`,
		"bad league": `
badges:
  - name: A
    requires: {league: 9}
`,
		"zero target": `
achievements:
  - title: T
    metric: transactions
    target: 0
`,
		"duplicate achievement": `
achievements:
  - title: T
    metric: transactions
    target: 1
  - id: t
    title: Again
    metric: transactions
    target: 2
`,
		"not yaml": `badges: [`,
	}
	for name, data := range cases {
		if _, err := Parse([]byte(data)); !errors.Is(err, core.ErrInvalidCatalog) {
			t.Fatalf("%s: expected ErrInvalidCatalog, got %v", name, err)
		}
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := []byte(`
badges:
  - name: Night Owl
    requires: {login_days: 3}
achievements:
  - id: custom
    title: Custom
    metric: season_score
    target: 700
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, ok := c.Badge("night-owl"); !ok {
		t.Fatalf("expected night-owl badge")
	}
	if c.Achievements[0].Metric != core.MetricSeasonScore {
		t.Fatalf("unexpected achievement %+v", c.Achievements[0])
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
