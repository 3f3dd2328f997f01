// Package plot builds Plotly-compatible chart documents and carries them
// inside chat text between [PLOTLY_JSON] markers.
package plot

import (
	"fmt"

	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/frame"
)

// Trace is one Plotly data series. Pie traces use Labels and Values
// instead of X and Y.
type Trace struct {
	Type     string  `json:"type"`
	Name     string  `json:"name,omitempty"`
	X        []any   `json:"x,omitempty"`
	Y        []any   `json:"y,omitempty"`
	Labels   []any   `json:"labels,omitempty"`
	Values   []any   `json:"values,omitempty"`
	Mode     string  `json:"mode,omitempty"`
	HistFunc string  `json:"histfunc,omitempty"`
	Marker   *Marker `json:"marker,omitempty"`
}

// Marker styles the points of a trace
type Marker struct {
	Size int `json:"size,omitempty"`
}

// Text is a Plotly title object
type Text struct {
	Text string `json:"text"`
}

// Axis is a Plotly axis definition
type Axis struct {
	Title Text `json:"title"`
}

// Layout is the Plotly layout subset the tools emit
type Layout struct {
	Title   Text   `json:"title"`
	XAxis   Axis   `json:"xaxis"`
	YAxis   Axis   `json:"yaxis"`
	BarMode string `json:"barmode,omitempty"`
	Legend  *Text  `json:"legend,omitempty"`
}

// Figure is a complete Plotly chart document
type Figure struct {
	Data   []Trace `json:"data"`
	Layout Layout  `json:"layout"`
}

// SetTitle replaces the figure title
func (f *Figure) SetTitle(title string) {
	f.Layout.Title.Text = title
}

// Spec names the columns a plot reads
type Spec struct {
	X     string
	Y     string
	Color string
	Title string
}

type series struct {
	name string
	x    []any
	y    []any
}

// splitByColor returns one series per distinct value of the color column in
// first-seen order, or a single unnamed series when no color is set.
func splitByColor(f *frame.Frame, spec Spec, withY bool) ([]series, error) {
	xi, ok := f.Index(spec.X)
	if !ok {
		return nil, errors.Newf(errors.ErrTypeNotFound, "column '%s' not found", spec.X)
	}

	yi := -1
	if withY {
		if spec.Y == "" {
			return nil, errors.New(errors.ErrTypeValidation, "a y column is required for this plot type")
		}

		if yi, ok = f.Index(spec.Y); !ok {
			return nil, errors.Newf(errors.ErrTypeNotFound, "column '%s' not found", spec.Y)
		}
	}

	ci := -1
	if spec.Color != "" {
		if ci, ok = f.Index(spec.Color); !ok {
			return nil, errors.Newf(errors.ErrTypeNotFound, "column '%s' not found", spec.Color)
		}
	}

	var out []series

	pos := map[string]int{}

	for _, row := range f.Rows {
		name := ""
		key := ""

		if ci >= 0 {
			name = frame.Format(row[ci])
			key = frame.Key(row[ci])
		}

		i, seen := pos[key]
		if !seen {
			i = len(out)
			pos[key] = i
			out = append(out, series{name: name})
		}

		out[i].x = append(out[i].x, row[xi])
		if yi >= 0 {
			out[i].y = append(out[i].y, row[yi])
		}
	}

	if len(out) == 0 {
		out = append(out, series{x: []any{}, y: []any{}})
	}

	return out, nil
}

func axisTitles(x, y string) Layout {
	return Layout{
		XAxis: Axis{Title: Text{Text: x}},
		YAxis: Axis{Title: Text{Text: y}},
	}
}

func titleOr(spec Spec, fallback string, args ...any) string {
	if spec.Title != "" {
		return spec.Title
	}

	return fmt.Sprintf(fallback, args...)
}
