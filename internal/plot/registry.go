package plot

import (
	"sort"

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/frame"
)

// Func renders a figure from a frame
type Func func(f *frame.Frame, spec Spec) (*Figure, error)

var registry = map[string]Func{
	"bar":       Bar,
	"scatter":   Scatter,
	"histogram": Histogram,
}

// Lookup returns the renderer registered for a plot type
func Lookup(plotType string) (Func, bool) {
	fn, ok := registry[plotType]
	return fn, ok
}

// Types lists the registered plot types in sorted order
func Types() []string {
	types := make([]string, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}

	sort.Strings(types)

	return types
}

// Render draws plotType or fails with an UnsupportedPlotType error
func Render(plotType string, f *frame.Frame, spec Spec) (*Figure, error) {
	fn, ok := Lookup(plotType)
	if !ok {
		return nil, UnsupportedPlotType(plotType)
	}

	return fn(f, spec)
}

// UnsupportedPlotType is returned for plot types outside the registry
func UnsupportedPlotType(plotType string) *errors.Error {
	return errors.Newf(errors.ErrTypeValidation, "Unsupported plot type: %s", plotType).
		WithSuggestion("Use one of: bar, scatter, histogram")
}

// Bar draws one bar trace per color group
func Bar(f *frame.Frame, spec Spec) (*Figure, error) {
	groups, err := splitByColor(f, spec, true)
	if err != nil {
		return nil, err
	}

	fig := &Figure{Layout: axisTitles(spec.X, spec.Y)}
	for _, g := range groups {
		fig.Data = append(fig.Data, Trace{Type: "bar", Name: g.name, X: g.x, Y: g.y})
	}

	if spec.Color != "" {
		fig.Layout.BarMode = "group"
		fig.Layout.Legend = &Text{Text: spec.Color}
	}

	fig.SetTitle(titleOr(spec, "Bar Plot of %s by %s", spec.Y, spec.X))

	return fig, nil
}

// Scatter draws marker traces of y against x
func Scatter(f *frame.Frame, spec Spec) (*Figure, error) {
	groups, err := splitByColor(f, spec, true)
	if err != nil {
		return nil, err
	}

	fig := &Figure{Layout: axisTitles(spec.X, spec.Y)}
	for _, g := range groups {
		fig.Data = append(fig.Data, Trace{Type: "scatter", Mode: "markers", Name: g.name, X: g.x, Y: g.y})
	}

	fig.SetTitle(titleOr(spec, "Scatter Plot of %s vs %s", spec.Y, spec.X))

	return fig, nil
}

// Histogram draws the distribution of x. When y is given, bins sum y.
func Histogram(f *frame.Frame, spec Spec) (*Figure, error) {
	withY := spec.Y != ""

	groups, err := splitByColor(f, spec, withY)
	if err != nil {
		return nil, err
	}

	yTitle := "count"
	if withY {
		yTitle = "sum of " + spec.Y
	}

	fig := &Figure{Layout: axisTitles(spec.X, yTitle)}
	for _, g := range groups {
		tr := Trace{Type: "histogram", Name: g.name, X: g.x}
		if withY {
			tr.Y = g.y
			tr.HistFunc = "sum"
		}

		fig.Data = append(fig.Data, tr)
	}

	if spec.Color != "" {
		fig.Layout.BarMode = "overlay"
	}

	fig.SetTitle(titleOr(spec, "Histogram of %s", spec.X))

	return fig, nil
}
