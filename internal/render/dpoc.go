package render

import (
	"dpoc-dashboard/internal/analytics"
)

// DPOC renders the developing-POC migration tab.
func DPOC(d *analytics.DPOC, timestamp string) View {
	if d == nil {
		d = &analytics.DPOC{}
	}
	regimeTheme := RegimeTheme(d.Regime)
	dir := DirectionOf(d.Direction)

	regime := Panel{
		Title:    "Regime",
		Headline: Label(d.Regime, Analyzing),
		Theme:    regimeTheme,
	}
	vector := Panel{
		Title:    "Vector",
		Headline: Signed2(d.NetMigration) + " pts",
		Arrow:    dir.Arrow,
		Theme:    dir.Theme,
		Fields: []Field{
			{Label: "Direction", Value: dir.Label, Theme: dir.Theme},
			{Label: "Net Migration", Value: Signed2(d.NetMigration) + " pts", Theme: dir.Theme},
		},
	}
	momentum := Panel{
		Title: "Momentum",
		Theme: ThemeNeutral,
		Fields: []Field{
			{Label: "Avg Velocity", Value: Fixed2(d.AvgVelocity) + " pts/slice"},
			{Label: "Accelerating", Value: FlagText(d.IsAccelerating), Theme: flagTheme(d.IsAccelerating, ThemeSuccess)},
			{Label: "Decelerating", Value: FlagText(d.IsDecelerating), Theme: flagTheme(d.IsDecelerating, ThemeWarning)},
			{Label: "Retain", Value: Pct2(d.RetainPct)},
		},
	}
	note := Panel{
		Title:  "Note",
		Theme:  ThemeNeutral,
		Fields: []Field{{Label: "Note", Value: TextOr(d.Note)}},
	}

	table := &Table{Title: "History", Columns: []string{"Slice", "DPOC"}}
	for _, row := range d.History {
		table.Rows = append(table.Rows, []string{TextOr(row.Slice), Fixed2(row.DPOC)})
	}

	return View{
		Tab:       "dpoc",
		Title:     "DPOC",
		Timestamp: timestamp,
		Panels:    []Panel{regime, vector, momentum, note},
		Table:     table,
	}
}

func flagTheme(f analytics.Flag, on Theme) Theme {
	if v, _ := f.Value(); v {
		return on
	}
	return ThemeNeutral
}
