// Package catalog holds the fixed list of credit packages sold through the chat bot.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

//go:embed packages.yaml
var defaultPackages []byte

// Package is a purchasable bundle of credits.
type Package struct {
	ID      string
	Name    string
	Credits int64
	Price   decimal.Decimal
}

type packageFile struct {
	Packages []struct {
		ID      string `yaml:"id"`
		Name    string `yaml:"name"`
		Credits int64  `yaml:"credits"`
		Price   string `yaml:"price"`
	} `yaml:"packages"`
}

// Catalog is an immutable, ordered package list.
type Catalog struct {
	packages []Package
	byID     map[string]Package
}

// Load reads the catalog from path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	data := defaultPackages
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read %s: %w", path, err)
		}
		data = raw
	}
	return Parse(data)
}

// Default returns the embedded catalog.
func Default() *Catalog {
	c, err := Parse(defaultPackages)
	if err != nil {
		panic(fmt.Sprintf("embedded packages.yaml: %v", err))
	}
	return c
}

// Parse builds a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var file packageFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("unable to parse packages: %w", err)
	}
	if len(file.Packages) == 0 {
		return nil, fmt.Errorf("no packages configured")
	}

	c := &Catalog{byID: make(map[string]Package, len(file.Packages))}
	for i, p := range file.Packages {
		if p.ID == "" {
			return nil, fmt.Errorf("package at index %d missing id", i)
		}
		if _, dup := c.byID[p.ID]; dup {
			return nil, fmt.Errorf("duplicate package id %q", p.ID)
		}
		if p.Credits <= 0 {
			return nil, fmt.Errorf("package %s: credits must be positive", p.ID)
		}
		price, err := decimal.NewFromString(p.Price)
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("package %s: invalid price %q", p.ID, p.Price)
		}
		pkg := Package{ID: p.ID, Name: p.Name, Credits: p.Credits, Price: price}
		c.packages = append(c.packages, pkg)
		c.byID[p.ID] = pkg
	}
	return c, nil
}

// Lookup returns the package with the given id.
func (c *Catalog) Lookup(id string) (Package, bool) {
	p, ok := c.byID[strings.TrimSpace(id)]
	return p, ok
}

// Packages returns the packages in file order.
func (c *Catalog) Packages() []Package {
	out := make([]Package, len(c.packages))
	copy(out, c.packages)
	return out
}

// Sizes returns the distinct credit sizes in ascending order.
func (c *Catalog) Sizes() []int64 {
	seen := map[int64]bool{}
	var sizes []int64
	for _, p := range c.packages {
		if !seen[p.Credits] {
			seen[p.Credits] = true
			sizes = append(sizes, p.Credits)
		}
	}
	sort.Slice(sizes, func(i, j int) bool { return sizes[i] < sizes[j] })
	return sizes
}

// IsSize reports whether credits equals one of the package sizes.
func (c *Catalog) IsSize(credits int64) bool {
	for _, p := range c.packages {
		if p.Credits == credits {
			return true
		}
	}
	return false
}
