package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/kyleking/sqlchat/internal/datasource"
	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/frame"
	"github.com/kyleking/sqlchat/internal/logging"
	"github.com/kyleking/sqlchat/internal/plot"
)

// CountColumn is the y column produced when rows are counted per group
const CountColumn = "count"

// InteractivePlot renders plotType over table. An empty y, or "count",
// plots the number of rows per x (and per color when given).
func InteractivePlot(ctx context.Context, src datasource.Source, table, plotType, x, y, color string) string {
	text, err := interactivePlot(ctx, src, table, plotType, x, y, color)
	if err != nil {
		logging.WithError(err).WithField("plot_type", plotType).Warn("Plot failed")
		return "Error creating plot: " + errors.UserMessage(err)
	}

	return text
}

func interactivePlot(ctx context.Context, src datasource.Source, table, plotType, x, y, color string) (string, error) {
	if _, ok := plot.Lookup(plotType); !ok {
		return "", plot.UnsupportedPlotType(plotType)
	}

	df, err := LoadFrame(ctx, src, table)
	if err != nil {
		return "", err
	}

	if y == "" || y == CountColumn {
		df, err = countBy(df, x, color)
		if err != nil {
			return "", err
		}

		y = CountColumn
	}

	fig, err := plot.Render(plotType, df, plot.Spec{X: x, Y: y, Color: color})
	if err != nil {
		return "", err
	}

	return plot.Wrap(fig)
}

// QuickVisualize draws chartType over the whole of table without the agent.
// Except for histograms, an empty y, or "count", plots the rows per x.
func QuickVisualize(ctx context.Context, src datasource.Source, table, chartType, x, y string) (*plot.Payload, error) {
	if _, ok := plot.LookupQuick(chartType); !ok {
		return nil, plot.UnsupportedChartType(chartType)
	}

	df, err := LoadFrame(ctx, src, table)
	if err != nil {
		return nil, err
	}

	if _, ok := exactColumn(df, x); !ok {
		return nil, ColumnNotFound(table, x)
	}

	if chartType != "histogram" && (y == "" || y == CountColumn) {
		if df, err = countBy(df, x, ""); err != nil {
			return nil, err
		}

		y = CountColumn
	} else if y != "" && chartType != "histogram" {
		if _, ok := exactColumn(df, y); !ok {
			return nil, ColumnNotFound(table, y)
		}
	}

	fig, err := plot.RenderQuick(chartType, df, plot.Spec{X: x, Y: y})
	if err != nil {
		return nil, err
	}

	logging.WithFields(map[string]interface{}{
		"table": table,
		"chart": chartType,
		"rows":  df.Len(),
	}).Debug("Quick chart rendered")

	return plot.FromFigure(fig)
}

// countBy groups rows by x and, when set, color. Groups are sorted by key.
func countBy(df *frame.Frame, x, color string) (*frame.Frame, error) {
	xi, ok := exactColumn(df, x)
	if !ok {
		return nil, errors.Newf(errors.ErrTypeNotFound, "column '%s' not found", x)
	}

	ci := -1
	if color != "" && color != x {
		if ci, ok = exactColumn(df, color); !ok {
			return nil, errors.Newf(errors.ErrTypeNotFound, "column '%s' not found", color)
		}
	}

	type group struct {
		x, color any
		n        int64
	}

	var groups []*group

	pos := map[string]*group{}

	for _, row := range df.Rows {
		if row[xi] == nil {
			continue
		}

		key := frame.Key(row[xi])

		var c any
		if ci >= 0 {
			c = row[ci]
			key += "\x00" + frame.Key(c)
		}

		g, seen := pos[key]
		if !seen {
			g = &group{x: row[xi], color: c}
			pos[key] = g
			groups = append(groups, g)
		}

		g.n++
	}

	sort.SliceStable(groups, func(i, j int) bool {
		if cmp := compareValues(groups[i].x, groups[j].x); cmp != 0 {
			return cmp < 0
		}

		return compareValues(groups[i].color, groups[j].color) < 0
	})

	out := frame.New(x, CountColumn)
	if ci >= 0 {
		out = frame.New(x, color, CountColumn)
	}

	for _, g := range groups {
		if ci >= 0 {
			out.Append(g.x, g.color, g.n)
		} else {
			out.Append(g.x, g.n)
		}
	}

	return out, nil
}

// YearlySummaryPlot counts rows per calendar year of dateColumn. Values that
// do not parse as dates are dropped.
func YearlySummaryPlot(ctx context.Context, src datasource.Source, table, dateColumn string) string {
	text, err := yearlySummaryPlot(ctx, src, table, dateColumn)
	if err != nil {
		logging.WithError(err).Warn("Yearly summary plot failed")
		return "Error creating yearly summary plot: " + errors.UserMessage(err)
	}

	return text
}

func yearlySummaryPlot(ctx context.Context, src datasource.Source, table, dateColumn string) (string, error) {
	df, err := LoadFrame(ctx, src, table)
	if err != nil {
		return "", err
	}

	counts, dropped, err := YearCounts(df, dateColumn)
	if err != nil {
		return "", err
	}

	if dropped > 0 {
		logging.WithFields(map[string]interface{}{
			"table":   table,
			"column":  dateColumn,
			"dropped": dropped,
		}).Debug("Dropped values that are not dates")
	}

	fig, err := plot.Bar(counts, plot.Spec{
		X:     "Year",
		Y:     "Count",
		Title: fmt.Sprintf("Total Count per Year from '%s'", table),
	})
	if err != nil {
		return "", err
	}

	return plot.Wrap(fig)
}

// YearCounts buckets dateColumn by year, ascending. It also returns how many
// non-null values could not be read as dates.
func YearCounts(df *frame.Frame, dateColumn string) (*frame.Frame, int, error) {
	idx, ok := exactColumn(df, dateColumn)
	if !ok {
		return nil, 0, errors.Newf(errors.ErrTypeNotFound, "column '%s' not found", dateColumn)
	}

	perYear := map[int]int64{}
	dropped := 0

	for _, v := range df.Column(idx) {
		if v == nil {
			continue
		}

		t, ok := asDate(v)
		if !ok {
			dropped++
			continue
		}

		perYear[t.Year()]++
	}

	years := make([]int, 0, len(perYear))
	for y := range perYear {
		years = append(years, y)
	}

	sort.Ints(years)

	out := frame.New("Year", "Count")
	for _, y := range years {
		out.Append(int64(y), perYear[y])
	}

	return out, dropped, nil
}

// asDate coerces a value to a time. Integers in 1..9999 are read as years.
func asDate(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val, true
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return time.Time{}, false
		}

		t, err := dateparse.ParseIn(s, time.UTC)
		if err != nil {
			return time.Time{}, false
		}

		return t, true
	case int64:
		if val >= 1 && val <= 9999 {
			return time.Date(int(val), time.January, 1, 0, 0, 0, 0, time.UTC), true
		}
	}

	return time.Time{}, false
}
