// Package analytics implements the table-level tools the agent can call:
// summaries, categorical counts, profiles and plots. Every tool returns text;
// failures come back as readable error strings.
package analytics

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kyleking/sqlchat/internal/datasource"
	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/formatter"
	"github.com/kyleking/sqlchat/internal/frame"
	"github.com/kyleking/sqlchat/internal/logging"
)

// LoadFrame reads every row of table
func LoadFrame(ctx context.Context, src datasource.Source, table string) (*frame.Frame, error) {
	if strings.TrimSpace(table) == "" {
		return nil, errors.New(errors.ErrTypeValidation, "table name is required")
	}

	df, err := src.Query(ctx, datasource.SelectAll(src, table))
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrTypeExecution, "failed to read table '%s'", table)
	}

	return df, nil
}

// exactColumn finds a column by its exact name
func exactColumn(df *frame.Frame, name string) (int, bool) {
	for i, c := range df.Columns {
		if c == name {
			return i, true
		}
	}

	return -1, false
}

// ColumnNotFound is the error for a column absent from a table
func ColumnNotFound(table, column string) *errors.Error {
	return errors.Newf(errors.ErrTypeNotFound, "Column '%s' not found in table '%s'.", column, table)
}

// Summary describes types, descriptive statistics and missing values of a table
func Summary(ctx context.Context, src datasource.Source, table string) string {
	df, err := LoadFrame(ctx, src, table)
	if err != nil {
		logging.WithError(err).Warn("Summary failed")
		return "Error during analysis: " + errors.UserMessage(err)
	}

	return FormatSummary(table, df)
}

// FormatSummary renders the summary block for an already loaded frame
func FormatSummary(table string, df *frame.Frame) string {
	f := formatter.NewFormatter()
	infos := columnInfo(df)

	var sb strings.Builder

	fmt.Fprintf(&sb, "Data Summary for table `%s`:\n\n", table)

	sb.WriteString("--- Data Types and Info ---\n")
	fmt.Fprintf(&sb, "Rows: %d\nColumns: %d\n", df.Len(), len(df.Columns))

	info := frame.New("Column", "Non-Null Count", "Dtype")
	for _, ci := range infos {
		info.Append(ci.Name, int64(ci.NonNull), ci.DType)
	}

	sb.WriteString(f.FormatFrame(info, formatter.FormatTable, 0))
	sb.WriteString("\n\n")

	sb.WriteString("--- Descriptive Statistics ---\n")
	sb.WriteString(formatDescribe(df, infos, f))
	sb.WriteString("\n\n")

	sb.WriteString("--- Missing Values ---\n")

	missing := frame.New("Column", "Missing Count")
	for _, ci := range infos {
		if ci.Missing > 0 {
			missing.Append(ci.Name, int64(ci.Missing))
		}
	}

	if missing.Len() == 0 {
		sb.WriteString("No missing values found.")
	} else {
		sb.WriteString("Missing Values:\n")
		sb.WriteString(f.FormatFrame(missing, formatter.FormatTable, 0))
	}

	return sb.String()
}

// formatDescribe lays statistics out with one row per statistic and one
// column per numeric column
func formatDescribe(df *frame.Frame, infos []ColumnInfo, f *formatter.Formatter) string {
	cols := []string{""}
	stats := []Describe{}

	for i, ci := range infos {
		if !isNumeric(ci.DType) {
			continue
		}

		d, ok := describe(df.Column(i))
		if !ok {
			continue
		}

		cols = append(cols, ci.Name)
		stats = append(stats, d)
	}

	if len(stats) == 0 {
		return "No numeric columns to describe."
	}

	table := frame.New(cols...)

	rows := []struct {
		label string
		value func(Describe) string
	}{
		{"count", func(d Describe) string { return strconv.Itoa(d.Count) }},
		{"mean", func(d Describe) string { return formatStat(d.Mean) }},
		{"std", func(d Describe) string { return formatStat(d.Std) }},
		{"min", func(d Describe) string { return formatStat(d.Min) }},
		{"25%", func(d Describe) string { return formatStat(d.Q25) }},
		{"50%", func(d Describe) string { return formatStat(d.Q50) }},
		{"75%", func(d Describe) string { return formatStat(d.Q75) }},
		{"max", func(d Describe) string { return formatStat(d.Max) }},
	}

	for _, r := range rows {
		values := []any{r.label}
		for _, d := range stats {
			values = append(values, r.value(d))
		}

		table.Append(values...)
	}

	return f.FormatFrame(table, formatter.FormatTable, 0)
}

// CategoricalCount lists how often each value of column occurs
func CategoricalCount(ctx context.Context, src datasource.Source, table, column string) string {
	df, err := LoadFrame(ctx, src, table)
	if err != nil {
		logging.WithError(err).Warn("Categorical count failed")
		return "Error counting categories: " + errors.UserMessage(err)
	}

	idx, ok := exactColumn(df, column)
	if !ok {
		return "Error: " + ColumnNotFound(table, column).Message
	}

	counts := valueCounts(df.Column(idx))
	labels := make([]string, len(counts))
	values := make([]string, len(counts))

	for i, c := range counts {
		labels[i] = frame.Format(c.value)
		values[i] = strconv.Itoa(c.count)
	}

	body := formatter.NewFormatter().FormatPairs(labels, values)
	if len(counts) == 0 {
		body = "(no values)"
	}

	return fmt.Sprintf("Counts for column '%s' in table '%s':\n%s", column, table, body)
}

// Profile is the automated EDA overview of a table
type Profile struct {
	Table    string       `json:"table"`
	Rows     int          `json:"rows"`
	Columns  int          `json:"columns"`
	Missing  int          `json:"missing"`
	Distinct int          `json:"distinct"`
	Fields   []ColumnInfo `json:"fields"`
	Preview  *frame.Frame `json:"-"`
}

// BuildProfile computes the profile of a table and keeps the first five rows
func BuildProfile(ctx context.Context, src datasource.Source, table string) (*Profile, error) {
	df, err := LoadFrame(ctx, src, table)
	if err != nil {
		return nil, err
	}

	p := &Profile{
		Table:   table,
		Rows:    df.Len(),
		Columns: len(df.Columns),
		Fields:  columnInfo(df),
		Preview: df.Head(5),
	}

	for _, ci := range p.Fields {
		p.Missing += ci.Missing
		p.Distinct += ci.Distinct
	}

	return p, nil
}

// String renders the profile as terminal text
func (p *Profile) String() string {
	f := formatter.NewFormatter()

	var sb strings.Builder

	fmt.Fprintf(&sb, "Table: %s\n", p.Table)
	fmt.Fprintf(&sb, "Rows: %d  Columns: %d  Missing: %d  Unique: %d\n\n", p.Rows, p.Columns, p.Missing, p.Distinct)

	sb.WriteString("Preview (first 5 rows)\n")
	sb.WriteString(f.FormatFrame(p.Preview, formatter.FormatTable, 0))
	sb.WriteString("\n\nData Types & Missing\n")

	fields := frame.New("column", "dtype", "missing", "unique")
	for _, ci := range p.Fields {
		fields.Append(ci.Name, ci.DType, int64(ci.Missing), int64(ci.Distinct))
	}

	sb.WriteString(f.FormatFrame(fields, formatter.FormatTable, 0))

	return sb.String()
}
