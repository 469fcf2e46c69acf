package convo

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"milenio/internal/catalog"
)

func TestPackageKeyboardOrdersByPrice(t *testing.T) {
	pkgs := []catalog.Package{
		{ID: "p2000", Name: "Grande", Credits: 2000, Price: decimal.RequireFromString("20")},
		{ID: "p500", Name: "Mini", Credits: 500, Price: decimal.RequireFromString("5")},
		{ID: strings.Repeat("x", 60), Name: "Longo", Credits: 1, Price: decimal.RequireFromString("1")},
	}

	rows := packageKeyboard(pkgs, "0123456789abcdef")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0][0].CallbackData != "p500|0123456789abcdef" {
		t.Fatalf("unexpected first callback data %q", rows[0][0].CallbackData)
	}
	if rows[1][0].Text != "Grande - R$ 20,00" {
		t.Fatalf("unexpected button text %q", rows[1][0].Text)
	}
}

func TestParseCallbackData(t *testing.T) {
	cases := []struct {
		in       string
		pkg, pfx string
		ok       bool
	}{
		{"p500|abc", "p500", "abc", true},
		{"p500|", "", "", false},
		{"|abc", "", "", false},
		{"p500", "", "", false},
	}
	for _, tc := range cases {
		pkg, pfx, ok := parseCallbackData(tc.in)
		if ok != tc.ok || pkg != tc.pkg || pfx != tc.pfx {
			t.Fatalf("parseCallbackData(%q) = %q %q %v", tc.in, pkg, pfx, ok)
		}
	}
}

func TestFormatBRL(t *testing.T) {
	cases := map[string]string{
		"5":       "R$ 5,00",
		"4.99":    "R$ 4,99",
		"1234.5":  "R$ 1.234,50",
		"1000000": "R$ 1.000.000,00",
		"-12.3":   "-R$ 12,30",
	}
	for in, want := range cases {
		if got := formatBRL(decimal.RequireFromString(in)); got != want {
			t.Fatalf("formatBRL(%s) = %q, want %q", in, got, want)
		}
	}
	if got := formatCredits(150000); got != "150.000" {
		t.Fatalf("formatCredits = %q", got)
	}
}

func TestFormatPackageMenu(t *testing.T) {
	if got := formatPackageMenu(nil); !strings.Contains(got, "Nenhum pacote") {
		t.Fatalf("unexpected empty menu %q", got)
	}
	menu := formatPackageMenu(catalog.Default().Packages())
	if !strings.HasPrefix(menu, "Escolha um pacote") {
		t.Fatalf("unexpected menu %q", menu)
	}
}
