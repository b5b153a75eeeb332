package render

import (
	"strings"

	"github.com/shopspring/decimal"

	"dpoc-dashboard/internal/analytics"
)

// Placeholders for absent fields.
const (
	NA        = "N/A"
	Zero      = "0.00"
	Analyzing = "ANALYZING..."
	Neutral   = "NEUTRAL"
)

// Theme is the color theme a panel or value is drawn with.
type Theme string

const (
	ThemeSuccess Theme = "success"
	ThemeDanger  Theme = "danger"
	ThemeWarning Theme = "warning"
	ThemeInfo    Theme = "info"
	ThemeNeutral Theme = "neutral"
)

// Fixed2 formats n with exactly two decimals, or 0.00 when absent.
func Fixed2(n analytics.Number) string {
	v, ok := n.Value()
	if !ok {
		return Zero
	}
	return decimal.NewFromFloat(v).StringFixed(2)
}

// Signed2 is Fixed2 with an explicit plus sign on positive values.
func Signed2(n analytics.Number) string {
	v, ok := n.Value()
	if !ok {
		return Zero
	}
	d := decimal.NewFromFloat(v).Round(2)
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	if d.IsZero() {
		return Zero
	}
	return d.StringFixed(2)
}

// Pct2 formats a percentage value, e.g. 62 -> "62.00%".
func Pct2(n analytics.Number) string {
	return Fixed2(n) + "%"
}

// Label turns a snake_case label into display form: upper case, spaces.
func Label(t analytics.Text, placeholder string) string {
	s, ok := t.Value()
	if !ok {
		return placeholder
	}
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", " ")
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}

// TextOr returns the text or N/A.
func TextOr(t analytics.Text) string {
	return strings.TrimSpace(t.Or(NA))
}

// FlagText renders TRUE or FALSE; absent counts as FALSE.
func FlagText(f analytics.Flag) string {
	if v, _ := f.Value(); v {
		return "TRUE"
	}
	return "FALSE"
}

// LevelList joins price levels with two decimals each, or N/A when empty.
func LevelList(l analytics.Levels) string {
	if len(l) == 0 {
		return NA
	}
	parts := make([]string, 0, len(l))
	for _, n := range l {
		parts = append(parts, Fixed2(n))
	}
	return strings.Join(parts, ", ")
}

// Direction is the display form of a migration direction.
type Direction struct {
	Label string
	Arrow string
	Theme Theme
}

const (
	ArrowUp   = "▲"
	ArrowDown = "▼"
	ArrowFlat = "▶"
)

// DirectionOf classifies a direction string by substring, case-insensitive.
func DirectionOf(t analytics.Text) Direction {
	raw, ok := t.Value()
	if !ok {
		return Direction{Label: NA, Arrow: ArrowFlat, Theme: ThemeNeutral}
	}
	label := strings.ToUpper(strings.TrimSpace(raw))
	lower := strings.ToLower(raw)
	switch {
	case strings.Contains(lower, "up"):
		return Direction{Label: label, Arrow: ArrowUp, Theme: ThemeSuccess}
	case strings.Contains(lower, "down"):
		return Direction{Label: label, Arrow: ArrowDown, Theme: ThemeDanger}
	}
	return Direction{Label: label, Arrow: ArrowFlat, Theme: ThemeNeutral}
}

// regimeThemes is checked in order; the first key contained in the regime
// label picks the theme.
var regimeThemes = []struct {
	key   string
	theme Theme
}{
	{"trending", ThemeSuccess},
	{"reversing", ThemeDanger},
	{"stabilizing", ThemeWarning},
	{"rotating", ThemeInfo},
}

func RegimeTheme(t analytics.Text) Theme {
	s, ok := t.Value()
	if !ok {
		return ThemeNeutral
	}
	s = strings.ToLower(s)
	for _, rt := range regimeThemes {
		if strings.Contains(s, rt.key) {
			return rt.theme
		}
	}
	return ThemeNeutral
}
