package plot

import (
	"sort"
	"strings"

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/frame"
)

// quick holds the chart types offered when a user picks a table and columns
// directly. The agent's plot tool only sees the registry.
var quick = map[string]Func{
	"bar":       versus(Bar),
	"line":      Line,
	"scatter":   versus(Scatter),
	"histogram": Histogram,
	"pie":       Pie,
}

// QuickTypes lists the quick chart types in sorted order
func QuickTypes() []string {
	types := make([]string, 0, len(quick))
	for t := range quick {
		types = append(types, t)
	}

	sort.Strings(types)

	return types
}

// LookupQuick returns the renderer for a quick chart type
func LookupQuick(chartType string) (Func, bool) {
	fn, ok := quick[chartType]
	return fn, ok
}

// UnsupportedChartType is returned for chart types outside QuickTypes
func UnsupportedChartType(chartType string) *errors.Error {
	return errors.Newf(errors.ErrTypeValidation, "Unsupported chart type: %s", chartType).
		WithSuggestion("Use one of: " + strings.Join(QuickTypes(), ", "))
}

// RenderQuick draws a quick chart. Histograms read only x; pie charts sum y
// per x label.
func RenderQuick(chartType string, f *frame.Frame, spec Spec) (*Figure, error) {
	fn, ok := LookupQuick(chartType)
	if !ok {
		return nil, UnsupportedChartType(chartType)
	}

	if chartType == "histogram" {
		spec.Y = ""
	}

	return fn(f, spec)
}

// versus titles a renderer "<y> vs <x>" unless a title is given
func versus(fn Func) Func {
	return func(f *frame.Frame, spec Spec) (*Figure, error) {
		spec.Title = titleOr(spec, "%s vs %s", spec.Y, spec.X)
		return fn(f, spec)
	}
}

// Line joins y against x in row order
func Line(f *frame.Frame, spec Spec) (*Figure, error) {
	groups, err := splitByColor(f, spec, true)
	if err != nil {
		return nil, err
	}

	fig := &Figure{Layout: axisTitles(spec.X, spec.Y)}
	for _, g := range groups {
		fig.Data = append(fig.Data, Trace{
			Type:   "scatter",
			Mode:   "lines+markers",
			Name:   g.name,
			X:      g.x,
			Y:      g.y,
			Marker: &Marker{Size: 6},
		})
	}

	fig.SetTitle(titleOr(spec, "%s vs %s", spec.Y, spec.X))

	return fig, nil
}

// Pie sums the numeric y column per distinct x label, in first-seen order.
// Rows with a null label or value are skipped.
func Pie(f *frame.Frame, spec Spec) (*Figure, error) {
	xi, ok := f.Index(spec.X)
	if !ok {
		return nil, errors.Newf(errors.ErrTypeNotFound, "column '%s' not found", spec.X)
	}

	if spec.Y == "" {
		return nil, errors.New(errors.ErrTypeValidation, "a values column is required for a pie chart")
	}

	yi, ok := f.Index(spec.Y)
	if !ok {
		return nil, errors.Newf(errors.ErrTypeNotFound, "column '%s' not found", spec.Y)
	}

	labels := []any{}
	totals := []float64{}
	pos := map[string]int{}

	for _, row := range f.Rows {
		if row[xi] == nil || row[yi] == nil {
			continue
		}

		v, ok := frame.ToFloat(row[yi])
		if !ok {
			return nil, errors.Newf(errors.ErrTypeValidation, "column '%s' is not numeric", spec.Y).
				WithSuggestion("Pick a numeric column for the pie values")
		}

		key := frame.Key(row[xi])

		i, seen := pos[key]
		if !seen {
			i = len(labels)
			pos[key] = i
			labels = append(labels, row[xi])
			totals = append(totals, 0)
		}

		totals[i] += v
	}

	values := make([]any, len(totals))
	for i, v := range totals {
		values[i] = v
	}

	fig := &Figure{Data: []Trace{{Type: "pie", Labels: labels, Values: values}}}
	fig.SetTitle(titleOr(spec, "%s by %s", spec.Y, spec.X))

	return fig, nil
}
