package formatter

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kyleking/sqlchat/internal/frame"
	"github.com/kyleking/sqlchat/internal/plot"
	"github.com/kyleking/sqlchat/internal/session"
)

// OutputFormat represents the output format type
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatCSV   OutputFormat = "csv"
)

const maxCellWidth = 40

// Formatter renders frames, snippets and plots for terminal output
type Formatter struct {
	now func() time.Time
}

// NewFormatter creates a new formatter instance
func NewFormatter() *Formatter {
	return &Formatter{now: time.Now}
}

// FormatFrame renders up to maxRows rows; maxRows <= 0 renders all
func (f *Formatter) FormatFrame(df *frame.Frame, format OutputFormat, maxRows int) string {
	switch format {
	case FormatCSV:
		return f.formatCSV(df)
	default:
		return f.formatTable(df, maxRows)
	}
}

// formatTable draws an aligned text table. Numeric cells are right-aligned.
func (f *Formatter) formatTable(df *frame.Frame, maxRows int) string {
	if df == nil || len(df.Columns) == 0 {
		return "(no columns)"
	}

	shown := df
	if maxRows > 0 {
		shown = df.Head(maxRows)
	}

	cells := make([][]string, len(shown.Rows))
	widths := make([]int, len(df.Columns))
	numeric := make([]bool, len(df.Columns))

	for i, name := range df.Columns {
		widths[i] = utf8.RuneCountInString(name)
		numeric[i] = true
	}

	for r, row := range shown.Rows {
		cells[r] = make([]string, len(row))

		for c, v := range row {
			text := truncate(frame.Format(v))
			cells[r][c] = text

			if n := utf8.RuneCountInString(text); n > widths[c] {
				widths[c] = n
			}

			if v != nil {
				switch v.(type) {
				case int64, float64:
				default:
					numeric[c] = false
				}
			}
		}
	}

	var lines []string

	header := make([]string, len(df.Columns))
	rule := make([]string, len(df.Columns))

	for i, name := range df.Columns {
		header[i] = pad(name, widths[i], false)
		rule[i] = strings.Repeat("-", widths[i])
	}

	lines = append(lines, strings.TrimRight(strings.Join(header, "  "), " "), strings.Join(rule, "  "))

	for _, row := range cells {
		parts := make([]string, len(row))
		for c, text := range row {
			parts[c] = pad(text, widths[c], numeric[c])
		}

		lines = append(lines, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	if len(shown.Rows) == 0 {
		lines = append(lines, "(no rows)")
	}

	if hidden := df.Len() - shown.Len(); hidden > 0 {
		lines = append(lines, fmt.Sprintf("... %s more rows", f.formatInt(hidden)))
	}

	return strings.Join(lines, "\n")
}

func (f *Formatter) formatCSV(df *frame.Frame) string {
	if df == nil {
		return ""
	}

	var lines []string

	lines = append(lines, strings.Join(df.Columns, ","))

	for _, row := range df.Rows {
		parts := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				continue
			}

			parts[i] = csvCell(frame.Format(v))
		}

		lines = append(lines, strings.Join(parts, ","))
	}

	return strings.Join(lines, "\n")
}

func csvCell(s string) string {
	if strings.ContainsAny(s, ",\"\n") {
		return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
	}

	return s
}

// FormatPairs aligns label/value pairs in two columns without a header
func (f *Formatter) FormatPairs(labels, values []string) string {
	width := 0
	for _, l := range labels {
		if n := utf8.RuneCountInString(l); n > width {
			width = n
		}
	}

	valueWidth := 0
	for _, v := range values {
		if n := utf8.RuneCountInString(v); n > valueWidth {
			valueWidth = n
		}
	}

	lines := make([]string, len(labels))
	for i := range labels {
		lines[i] = pad(labels[i], width, false) + "    " + pad(values[i], valueWidth, true)
	}

	return strings.Join(lines, "\n")
}

// FormatSnippet renders one stored snippet with its state and age
func (f *Formatter) FormatSnippet(s session.Snippet) string {
	var lines []string

	lines = append(lines, fmt.Sprintf("%s  [%s]  %s", s.ID, s.State, f.humanizeAge(s.CreatedAt)))

	for _, line := range strings.Split(strings.TrimRight(s.Code, "\n"), "\n") {
		lines = append(lines, "    "+line)
	}

	if s.Output != "" {
		lines = append(lines, "  output:")
		for _, line := range strings.Split(strings.TrimRight(s.Output, "\n"), "\n") {
			lines = append(lines, "    "+line)
		}
	}

	return strings.Join(lines, "\n")
}

// formatInt formats an integer, returning "?" for negative values (unknown)
func (f *Formatter) formatInt(value int) string {
	if value < 0 {
		return "?"
	}

	return strconv.Itoa(value)
}

// humanizeAge converts a time to a human-readable age string
func (f *Formatter) humanizeAge(t time.Time) string {
	if t.IsZero() {
		return "?"
	}

	d := f.now().Sub(t)

	switch {
	case d < time.Minute:
		return "just now"
	case d < 2*time.Minute:
		return "1 minute ago"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 2*time.Hour:
		return "1 hour ago"
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	}

	days := int(d.Hours() / 24)
	if days == 1 {
		return "1 day ago"
	}

	return fmt.Sprintf("%d days ago", days)
}

var plotPage = template.Must(template.New("plot").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script src="https://cdn.plot.ly/plotly-2.35.2.min.js"></script>
</head>
<body>
<div id="chart" style="width:100%;height:90vh;"></div>
<script>
const fig = {{.Figure}};
Plotly.newPlot("chart", fig.data || [], fig.layout || {}, {responsive: true});
</script>
</body>
</html>
`))

// PlotHTML renders a payload as a standalone page that loads plotly.js
func (f *Formatter) PlotHTML(p *plot.Payload) ([]byte, error) {
	fig, err := p.Figure()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	err = plotPage.Execute(&buf, struct {
		Title  string
		Figure map[string]any
	}{Title: figureTitle(fig), Figure: fig})
	if err != nil {
		return nil, fmt.Errorf("failed to render plot page: %w", err)
	}

	return buf.Bytes(), nil
}

func figureTitle(fig map[string]any) string {
	layout, _ := fig["layout"].(map[string]any)
	title, _ := layout["title"].(map[string]any)

	if text, ok := title["text"].(string); ok && text != "" {
		return text
	}

	return "sqlchat plot"
}

func truncate(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if utf8.RuneCountInString(s) <= maxCellWidth {
		return s
	}

	runes := []rune(s)

	return string(runes[:maxCellWidth-3]) + "..."
}

func pad(s string, width int, right bool) string {
	gap := width - utf8.RuneCountInString(s)
	if gap <= 0 {
		return s
	}

	if right {
		return strings.Repeat(" ", gap) + s
	}

	return s + strings.Repeat(" ", gap)
}
