// Package resort holds the resort portfolio the concierge can talk about and
// resolves spoken resort names against it.
//
// A [Catalog] starts from the built-in portfolio ([Defaults]) and may be
// amended with configured overrides. Lookups go through a [Matcher], which
// tolerates the transcription noise typical of names heard over a live voice
// channel ("zimbally lodge", "mount amanzee").
package resort

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Category groups resorts the way the showcase filters them.
type Category string

const (
	CategorySun      Category = "Sun"
	CategorySafari   Category = "Safari"
	CategorySea      Category = "Sea"
	CategoryMountain Category = "Mountain"
)

// Categories lists every valid category in display order.
var Categories = []Category{CategorySun, CategorySafari, CategorySea, CategoryMountain}

// ParseCategory returns the Category named by s, case-insensitively.
func ParseCategory(s string) (Category, error) {
	for _, c := range Categories {
		if strings.EqualFold(string(c), strings.TrimSpace(s)) {
			return c, nil
		}
	}
	return "", fmt.Errorf("resort: unknown category %q", s)
}

// Resort is one property in the portfolio.
type Resort struct {
	Name        string   `json:"name"`
	Location    string   `json:"location"`
	Category    Category `json:"category"`
	ImageURL    string   `json:"image_url"`
	URL         string   `json:"url"`
	Description string   `json:"description,omitempty"`
}

func unsplash(id string) string {
	return "https://images.unsplash.com/" + id + "?auto=format&fit=crop&q=80&w=800"
}

// Defaults returns a fresh copy of the built-in portfolio.
func Defaults() []Resort {
	return []Resort{
		{Name: "Mount Amanzi", Location: "Magaliesberg, Gauteng", Category: CategorySun,
			ImageURL: unsplash("photo-1582719478250-c89cae4dc85b"), URL: "https://www.dreamvacs.com/resorts/mount-amanzi/"},
		{Name: "Finfoot Lake Reserve", Location: "Greater Pilanesberg, North West", Category: CategorySafari,
			ImageURL: unsplash("photo-1516426122078-c23e76319801"), URL: "https://dreamresorts.co.za/hotels-resorts/finfoot-lake-reserve/explore"},
		{Name: "Cayley Lodge", Location: "Central Drakensberg, KZN", Category: CategoryMountain,
			ImageURL: unsplash("photo-1464822759023-fed622ff2c3b"), URL: "https://dreamresorts.co.za/cayley-lodge/"},
		{Name: "Royal Palm", Location: "Umhlanga, Durban", Category: CategorySea,
			ImageURL: unsplash("photo-1566073771259-6a8506099945"), URL: "https://dreamresorts.co.za/royal-palm/"},
		{Name: "Blue Marlin Hotel", Location: "Scottburgh, KZN South Coast", Category: CategorySea,
			ImageURL: unsplash("photo-1507525428034-b723cf961d3e"), URL: "https://dreamresorts.co.za/blue-marlin-hotel/"},
		{Name: "Waterfront Hotel & Spa", Location: "Point Waterfront, Durban", Category: CategorySea,
			ImageURL: unsplash("photo-1499793983690-e29da59ef1c2"), URL: "https://dreamresorts.co.za/the-waterfront-hotel-spa/"},
		{Name: "Little Eden", Location: "Cullinan, Gauteng", Category: CategorySun,
			ImageURL: unsplash("photo-1500673922987-e212871fec22"), URL: "https://dreamresorts.co.za/little-eden/"},
		{Name: "Piekenierskloof Mountain Resort", Location: "Citrusdal, Western Cape", Category: CategoryMountain,
			ImageURL: unsplash("photo-1519681393784-d120267933ba"), URL: "https://dreamresorts.co.za/piekenierskloof-mountain-resort/"},
		{Name: "Zimbali Lodge", Location: "Ballito, Durban North Coast", Category: CategorySea,
			ImageURL: unsplash("photo-1544124499-58912cbddaad"), URL: "https://dreamresorts.co.za/zimbali-lodge/"},
		{Name: "Tala Collection", Location: "Camperdown, KZN (Durban Area)", Category: CategorySafari,
			ImageURL: unsplash("photo-1516426122078-c23e76319801"), URL: "https://dreamresorts.co.za/tala-collection-game-reserve/"},
	}
}

// Catalog is the queryable resort portfolio. It is safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	resorts []Resort
	names   []string
	matcher *Matcher
}

// New builds a Catalog from resorts. Entries with an empty name are skipped
// and later duplicates (by case-insensitive name) replace earlier ones.
func New(resorts []Resort, opts ...Option) *Catalog {
	c := &Catalog{matcher: NewMatcher(opts...)}
	c.apply(resorts, false)
	return c
}

// NewDefault builds a Catalog from [Defaults].
func NewDefault(opts ...Option) *Catalog {
	return New(Defaults(), opts...)
}

// Merge applies overrides. An override whose name matches an existing resort
// replaces only its non-empty fields; any other override is appended as a new
// resort.
func (c *Catalog) Merge(overrides []Resort) {
	c.apply(overrides, true)
}

func (c *Catalog) apply(rs []Resort, partial bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range rs {
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			continue
		}
		i := slices.IndexFunc(c.resorts, func(e Resort) bool { return strings.EqualFold(e.Name, r.Name) })
		if i < 0 {
			c.resorts = append(c.resorts, r)
			continue
		}
		if !partial {
			c.resorts[i] = r
			continue
		}
		cur := &c.resorts[i]
		if r.Location != "" {
			cur.Location = r.Location
		}
		if r.Category != "" {
			cur.Category = r.Category
		}
		if r.ImageURL != "" {
			cur.ImageURL = r.ImageURL
		}
		if r.URL != "" {
			cur.URL = r.URL
		}
		if r.Description != "" {
			cur.Description = r.Description
		}
	}
	c.names = c.names[:0]
	for _, r := range c.resorts {
		c.names = append(c.names, r.Name)
	}
}

// All returns a copy of every resort in catalog order.
func (c *Catalog) All() []Resort {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.resorts)
}

// ByCategory returns the resorts in category cat.
func (c *Catalog) ByCategory(cat Category) []Resort {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Resort
	for _, r := range c.resorts {
		if r.Category == cat {
			out = append(out, r)
		}
	}
	return out
}

// Names returns the resort names in catalog order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.names)
}

// Len returns the number of resorts.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.resorts)
}

// Lookup resolves a spoken or typed resort name. The returned Match reports
// how the name was resolved; ok is false when nothing in the catalog is close
// enough.
func (c *Catalog) Lookup(name string) (Resort, Match, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.matcher.Match(name, c.names)
	if !ok {
		return Resort{}, m, false
	}
	return c.resorts[m.Index], m, true
}
