package render

import (
	"html/template"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"dpoc-dashboard/internal/analytics"
)

var (
	narrativePolicy = bluemonday.UGCPolicy()
	mdConverter     = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
	htmlTag = regexp.MustCompile(`</?[a-zA-Z][a-zA-Z0-9]*(\s[^<>]*)?/?>`)
)

// Thinking renders the free-text reasoning trace. The trace may carry HTML:
// it is sanitized for display and converted to markdown for copying.
func Thinking(text analytics.Text, timestamp string) View {
	v := View{Tab: "thinking", Title: "THINKING", Timestamp: timestamp}
	raw, ok := text.Value()
	if !ok {
		v.Narrative = template.HTML(template.HTMLEscapeString(Analyzing))
		v.narrativeMD = Analyzing
		return v
	}
	v.Narrative = template.HTML(narrativePolicy.Sanitize(raw))
	v.narrativeMD = narrativeMarkdown(raw)
	return v
}

func narrativeMarkdown(raw string) string {
	if !htmlTag.MatchString(raw) {
		return strings.TrimSpace(raw)
	}
	md, err := mdConverter.ConvertString(narrativePolicy.Sanitize(raw))
	if err != nil {
		return strings.TrimSpace(htmlTag.ReplaceAllString(raw, ""))
	}
	return strings.TrimSpace(md)
}
