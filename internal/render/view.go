package render

import (
	"fmt"
	"html/template"
	"strings"
)

// Field is one labelled value inside a panel.
type Field struct {
	Label string
	Value string
	Theme Theme
}

// Panel is a read-only card. Headline, Arrow and Theme are optional.
type Panel struct {
	Title    string
	Headline string
	Arrow    string
	Theme    Theme
	Fields   []Field
}

// Table is a read-only table; the DPOC history is the only one.
type Table struct {
	Title   string
	Columns []string
	Rows    [][]string
}

// View is everything one tab shows, derived from a snapshot section and the
// display timestamp.
type View struct {
	Tab       string
	Title     string
	Timestamp string
	Panels    []Panel
	Table     *Table

	// Narrative is sanitized HTML; only the thinking tab sets it.
	Narrative   template.HTML
	narrativeMD string
}

// Markdown is the copy-as-text form of the view.
func (v View) Markdown() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("## %s | %s\n", v.Title, v.Timestamp))
	for _, p := range v.Panels {
		b.WriteString(fmt.Sprintf("\n### %s\n", p.Title))
		if p.Headline != "" {
			b.WriteString("**" + mdEscape(p.Headline) + "**")
			if p.Arrow != "" {
				b.WriteString(" " + p.Arrow)
			}
			b.WriteString("\n")
		}
		for _, f := range p.Fields {
			b.WriteString(fmt.Sprintf("- **%s:** %s\n", f.Label, mdEscape(f.Value)))
		}
	}
	if t := v.Table; t != nil {
		b.WriteString(fmt.Sprintf("\n### %s\n", t.Title))
		if len(t.Rows) == 0 {
			b.WriteString(NA + "\n")
		} else {
			b.WriteString("| " + strings.Join(t.Columns, " | ") + " |\n")
			b.WriteString("|" + strings.Repeat("---|", len(t.Columns)) + "\n")
			for _, row := range t.Rows {
				cells := make([]string, len(row))
				for i, c := range row {
					cells[i] = strings.ReplaceAll(c, "|", `\|`)
				}
				b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
			}
		}
	}
	if v.narrativeMD != "" {
		b.WriteString("\n### Trace\n")
		b.WriteString(v.narrativeMD)
		b.WriteString("\n")
	}
	return b.String()
}

// mdEscape keeps values from opening emphasis in the copied markdown.
func mdEscape(s string) string {
	return strings.NewReplacer("*", `\*`, "_", `\_`).Replace(s)
}
