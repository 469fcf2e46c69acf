package convo

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"milenio/internal/catalog"
	"milenio/internal/telegram"
)

const callbackSeparator = "|"

func formatPackageMenu(pkgs []catalog.Package) string {
	if len(pkgs) == 0 {
		return "Nenhum pacote de créditos disponível no momento."
	}

	var builder strings.Builder
	builder.WriteString("Escolha um pacote de créditos:\n")
	for _, pkg := range sortedPackages(pkgs) {
		builder.WriteString("- ")
		builder.WriteString(fmt.Sprintf("%s: %s créditos por %s", pkg.Name, formatCredits(pkg.Credits), formatBRL(pkg.Price)))
		builder.WriteString("\n")
	}
	return strings.TrimSpace(builder.String())
}

// packageKeyboard renders one button per package. Packages whose callback data would exceed the
// platform limit are left out.
func packageKeyboard(pkgs []catalog.Package, prefix string) [][]telegram.InlineButton {
	rows := make([][]telegram.InlineButton, 0, len(pkgs))
	for _, pkg := range sortedPackages(pkgs) {
		data := callbackData(pkg.ID, prefix)
		if len(data) > telegram.MaxCallbackData {
			continue
		}
		rows = append(rows, []telegram.InlineButton{{
			Text:         fmt.Sprintf("%s - %s", pkg.Name, formatBRL(pkg.Price)),
			CallbackData: data,
		}})
	}
	return rows
}

func sortedPackages(pkgs []catalog.Package) []catalog.Package {
	res := make([]catalog.Package, len(pkgs))
	copy(res, pkgs)
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Price.LessThan(res[j].Price)
	})
	return res
}

func callbackData(packageID, prefix string) string {
	return packageID + callbackSeparator + prefix
}

func parseCallbackData(data string) (packageID, prefix string, ok bool) {
	packageID, prefix, found := strings.Cut(strings.TrimSpace(data), callbackSeparator)
	if !found || packageID == "" || prefix == "" {
		return "", "", false
	}
	return packageID, prefix, true
}

// formatBRL renders an amount as "R$ 1.234,56".
func formatBRL(amount decimal.Decimal) string {
	fixed := amount.StringFixed(2)
	negative := strings.HasPrefix(fixed, "-")
	fixed = strings.TrimPrefix(fixed, "-")
	whole, frac, _ := strings.Cut(fixed, ".")
	out := "R$ " + groupThousands(whole) + "," + frac
	if negative {
		return "-" + out
	}
	return out
}

func formatCredits(credits int64) string {
	if credits < 0 {
		return "-" + groupThousands(fmt.Sprintf("%d", -credits))
	}
	return groupThousands(fmt.Sprintf("%d", credits))
}

func groupThousands(digits string) string {
	if len(digits) <= 3 {
		return digits
	}
	var builder strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		builder.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if builder.Len() > 0 {
			builder.WriteString(".")
		}
		builder.WriteString(digits[i : i+3])
	}
	return builder.String()
}
