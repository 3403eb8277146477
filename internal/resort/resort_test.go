package resort_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/dreamit/concierge/internal/resort"
)

func TestDefaults(t *testing.T) {
	t.Parallel()

	rs := resort.Defaults()
	if len(rs) != 10 {
		t.Fatalf("len(Defaults()) = %d, want 10", len(rs))
	}
	seen := make(map[string]bool)
	for _, r := range rs {
		if seen[r.Name] {
			t.Errorf("duplicate resort %q", r.Name)
		}
		seen[r.Name] = true
		if _, err := resort.ParseCategory(string(r.Category)); err != nil {
			t.Errorf("%s: %v", r.Name, err)
		}
		if !strings.HasPrefix(r.ImageURL, "https://images.unsplash.com/") {
			t.Errorf("%s: ImageURL = %q", r.Name, r.ImageURL)
		}
		if !strings.HasPrefix(r.URL, "https://") {
			t.Errorf("%s: URL = %q", r.Name, r.URL)
		}
	}

	// Defaults hands out a fresh copy every time.
	rs[0].Name = "changed"
	if resort.Defaults()[0].Name != "Mount Amanzi" {
		t.Error("Defaults() shares backing storage between calls")
	}
}

func TestParseCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    resort.Category
		wantErr bool
	}{
		{"Sun", resort.CategorySun, false},
		{"sea", resort.CategorySea, false},
		{" SAFARI ", resort.CategorySafari, false},
		{"mountain", resort.CategoryMountain, false},
		{"desert", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := resort.ParseCategory(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCategory(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCategory(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCatalog_ByCategory(t *testing.T) {
	t.Parallel()

	c := resort.NewDefault()
	safari := c.ByCategory(resort.CategorySafari)
	if len(safari) != 2 {
		t.Fatalf("ByCategory(Safari) = %d resorts, want 2", len(safari))
	}
	if safari[0].Name != "Finfoot Lake Reserve" || safari[1].Name != "Tala Collection" {
		t.Errorf("ByCategory(Safari) = %q, %q", safari[0].Name, safari[1].Name)
	}
	if n := len(c.ByCategory(resort.CategorySea)); n != 4 {
		t.Errorf("ByCategory(Sea) = %d resorts, want 4", n)
	}
}

func TestCatalog_MergeOverridesFields(t *testing.T) {
	t.Parallel()

	c := resort.NewDefault()
	c.Merge([]resort.Resort{{Name: "mount amanzi", ImageURL: "https://cdn.example.com/amanzi.jpg"}})

	r, _, ok := c.Lookup("Mount Amanzi")
	if !ok {
		t.Fatal("Lookup(Mount Amanzi) failed after merge")
	}
	if r.ImageURL != "https://cdn.example.com/amanzi.jpg" {
		t.Errorf("ImageURL = %q, want override", r.ImageURL)
	}
	if r.Location != "Magaliesberg, Gauteng" {
		t.Errorf("Location = %q, want untouched default", r.Location)
	}
	if r.Name != "Mount Amanzi" {
		t.Errorf("Name = %q, want original casing kept", r.Name)
	}
	if c.Len() != 10 {
		t.Errorf("Len() = %d, want 10", c.Len())
	}
}

func TestCatalog_MergeAppends(t *testing.T) {
	t.Parallel()

	c := resort.NewDefault()
	c.Merge([]resort.Resort{
		{Name: "Alpine Heath", Location: "Northern Drakensberg, KZN", Category: resort.CategoryMountain},
		{Name: "   "},
	})
	if c.Len() != 11 {
		t.Fatalf("Len() = %d, want 11", c.Len())
	}
	names := c.Names()
	if names[len(names)-1] != "Alpine Heath" {
		t.Errorf("last name = %q, want Alpine Heath", names[len(names)-1])
	}
	r, m, ok := c.Lookup("alpine heath")
	if !ok || r.Category != resort.CategoryMountain || m.Kind != resort.MatchExact {
		t.Errorf("Lookup(alpine heath) = %+v, %+v, %v", r, m, ok)
	}
}

func TestCatalog_NewReplacesDuplicates(t *testing.T) {
	t.Parallel()

	c := resort.New([]resort.Resort{
		{Name: "Royal Palm", Location: "old"},
		{Name: "ROYAL PALM", Location: "new"},
	})
	if c.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", c.Len())
	}
	if got := c.All()[0].Location; got != "new" {
		t.Errorf("Location = %q, want new", got)
	}
}

func TestCatalog_Lookup(t *testing.T) {
	t.Parallel()

	c := resort.NewDefault()

	tests := []struct {
		query    string
		want     string
		wantKind resort.MatchKind
	}{
		{"Zimbali Lodge", "Zimbali Lodge", resort.MatchExact},
		{"the royal palm", "Royal Palm", resort.MatchExact},
		{"waterfront hotel & spa", "Waterfront Hotel & Spa", resort.MatchExact},
		{"Finfoot", "Finfoot Lake Reserve", resort.MatchContains},
		{"I'd love to see Little Eden please", "Little Eden", resort.MatchContains},
		{"mount amanzee", "Mount Amanzi", resort.MatchPhonetic},
		{"zimbally lodge", "Zimbali Lodge", resort.MatchPhonetic},
		{"waterfront hotel and spa", "Waterfront Hotel & Spa", resort.MatchPhonetic},
	}
	for _, tt := range tests {
		r, m, ok := c.Lookup(tt.query)
		if !ok {
			t.Errorf("Lookup(%q): no match, want %q", tt.query, tt.want)
			continue
		}
		if r.Name != tt.want || m.Name != tt.want {
			t.Errorf("Lookup(%q) = %q (match %q), want %q", tt.query, r.Name, m.Name, tt.want)
		}
		if m.Kind != tt.wantKind {
			t.Errorf("Lookup(%q) kind = %v, want %v", tt.query, m.Kind, tt.wantKind)
		}
		if m.Score < 0.7 || m.Score > 1 {
			t.Errorf("Lookup(%q) score = %f, want in [0.7, 1]", tt.query, m.Score)
		}
	}
}

func TestCatalog_LookupNoMatch(t *testing.T) {
	t.Parallel()

	c := resort.NewDefault()
	for _, q := range []string{"", "   ", "xyzzy", "?!"} {
		if r, m, ok := c.Lookup(q); ok {
			t.Errorf("Lookup(%q) = %q (%v), want no match", q, r.Name, m.Kind)
		}
	}
}

func TestMatcher_Thresholds(t *testing.T) {
	t.Parallel()

	names := []string{"Mount Amanzi", "Little Eden"}

	strict := resort.NewMatcher(resort.WithPhoneticThreshold(1.01), resort.WithFuzzyThreshold(1.01))
	if m, ok := strict.Match("mount amanzee", names); ok {
		t.Errorf("strict Match = %+v, want no match", m)
	}

	// Exact and containment stages ignore thresholds.
	if m, ok := strict.Match("little eden", names); !ok || m.Index != 1 || m.Kind != resort.MatchExact {
		t.Errorf("strict exact Match = %+v, %v", m, ok)
	}
}

func TestMatcher_AmbiguousContainmentFallsThrough(t *testing.T) {
	t.Parallel()

	m := resort.NewMatcher()
	// "lodge" is contained in both names, so containment declines and the
	// scoring stages decide.
	got, ok := m.Match("lodge", []string{"Cayley Lodge", "Zimbali Lodge"})
	if !ok {
		t.Fatal("Match(lodge): no match")
	}
	if got.Kind == resort.MatchContains || got.Kind == resort.MatchExact {
		t.Errorf("Match(lodge) kind = %v, want a scored match", got.Kind)
	}
}

func TestMatchKind_String(t *testing.T) {
	t.Parallel()

	want := map[resort.MatchKind]string{
		resort.MatchNone:     "none",
		resort.MatchExact:    "exact",
		resort.MatchContains: "contains",
		resort.MatchPhonetic: "phonetic",
		resort.MatchFuzzy:    "fuzzy",
	}
	for k, s := range want {
		if k.String() != s {
			t.Errorf("%d.String() = %q, want %q", int(k), k.String(), s)
		}
	}
}

func TestCatalog_ConcurrentLookupAndMerge(t *testing.T) {
	t.Parallel()

	c := resort.NewDefault()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Go(func() {
			for range 50 {
				if i%2 == 0 {
					c.Lookup("royal palm")
				} else {
					c.Merge([]resort.Resort{{Name: "Royal Palm", Description: "beachfront"}})
				}
			}
		})
	}
	wg.Wait()
	if r, _, ok := c.Lookup("royal palm"); !ok || r.Description != "beachfront" {
		t.Errorf("Lookup after merges = %+v, %v", r, ok)
	}
}
