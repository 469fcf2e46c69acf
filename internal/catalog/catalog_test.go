package catalog

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()
	p, ok := c.Lookup("p1000")
	if !ok {
		t.Fatal("expected p1000 in default catalog")
	}
	if p.Credits != 1000 || p.Price.StringFixed(2) != "10.00" {
		t.Fatalf("unexpected package %+v", p)
	}
	if _, ok := c.Lookup("nope"); ok {
		t.Fatal("unexpected package for unknown id")
	}
	sizes := c.Sizes()
	if len(sizes) != 4 || sizes[0] != 500 || sizes[3] != 5000 {
		t.Fatalf("unexpected sizes %v", sizes)
	}
	if !c.IsSize(2000) || c.IsSize(300) {
		t.Fatal("unexpected IsSize result")
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packages.yaml")
	content := "packages:\n  - id: small\n    name: Small\n    credits: 100\n    price: \"1.99\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Packages()) != 1 {
		t.Fatalf("expected one package, got %d", len(c.Packages()))
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":     "packages: []\n",
		"no id":     "packages:\n  - credits: 1\n    price: \"1\"\n",
		"bad price": "packages:\n  - id: a\n    credits: 1\n    price: \"abc\"\n",
		"zero":      "packages:\n  - id: a\n    credits: 0\n    price: \"1\"\n",
		"duplicate": "packages:\n  - id: a\n    credits: 1\n    price: \"1\"\n  - id: a\n    credits: 2\n    price: \"2\"\n",
	}
	for name, data := range cases {
		if _, err := Parse([]byte(data)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
