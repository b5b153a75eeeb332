package render

import (
	"strings"

	"dpoc-dashboard/internal/analytics"
)

// Globex renders the overnight session levels tab.
func Globex(p *analytics.Premarket, timestamp string) View {
	if p == nil {
		p = &analytics.Premarket{}
	}
	session := func(title string, high, low, rng analytics.Number) Panel {
		return Panel{
			Title: title,
			Theme: ThemeNeutral,
			Fields: []Field{
				{Label: "High", Value: Fixed2(high)},
				{Label: "Low", Value: Fixed2(low)},
				{Label: "Range", Value: Fixed2(rng)},
			},
		}
	}

	compression := Panel{
		Title: "Compression",
		Theme: flagTheme(p.IsCompressed, ThemeWarning),
		Fields: []Field{
			{Label: "Compressed", Value: FlagText(p.IsCompressed)},
			{Label: "Ratio", Value: Fixed2(p.CompressionRatio)},
		},
	}
	smt := Label(p.SMTDivergence, Neutral)
	divergence := Panel{
		Title:    "SMT Divergence",
		Headline: smt,
		Theme:    smtTheme(smt),
	}
	refs := Panel{
		Title: "Reference Levels",
		Theme: ThemeNeutral,
		Fields: []Field{
			{Label: "Prev Day High", Value: Fixed2(p.PrevDayHigh)},
			{Label: "Prev Day Low", Value: Fixed2(p.PrevDayLow)},
			{Label: "Prev Week High", Value: Fixed2(p.PrevWeekHigh)},
			{Label: "Prev Week Low", Value: Fixed2(p.PrevWeekLow)},
		},
	}

	return View{
		Tab:       "globex",
		Title:     "GLOBEX",
		Timestamp: timestamp,
		Panels: []Panel{
			session("Asia", p.AsiaHigh, p.AsiaLow, p.AsiaRange),
			session("London", p.LondonHigh, p.LondonLow, p.LondonRange),
			session("Overnight", p.OvernightHigh, p.OvernightLow, p.OvernightRange),
			compression,
			divergence,
			refs,
		},
	}
}

func smtTheme(label string) Theme {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "bull"):
		return ThemeSuccess
	case strings.Contains(l, "bear"):
		return ThemeDanger
	}
	return ThemeNeutral
}
