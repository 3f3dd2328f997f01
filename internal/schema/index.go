// Package schema builds the semantic index over table and column
// descriptions that the retriever tool searches before any SQL is written.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kyleking/sqlchat/internal/datasource"
	"github.com/kyleking/sqlchat/internal/embedding"
	"github.com/kyleking/sqlchat/internal/errors"
	"github.com/kyleking/sqlchat/internal/logging"
)

// DefaultK is the number of documents returned by Retrieve when k <= 0
const DefaultK = 4

// SourceKind tags what a document describes
type SourceKind string

const (
	TableDescription  SourceKind = "table_description"
	ColumnDescription SourceKind = "column_description"
)

// Document is one retrievable description
type Document struct {
	Text   string     `json:"text"`
	Kind   SourceKind `json:"kind"`
	Table  string     `json:"table"`
	Column string     `json:"column,omitempty"`
}

// Hint appends Text to a column description whose name contains Substring
// (case-insensitive)
type Hint struct {
	Substring string
	Text      string
}

// DefaultHints are applied to every column description in order
var DefaultHints = []Hint{
	{Substring: "year", Text: " This column likely represents a calendar year."},
	{Substring: "price", Text: " This is a numerical column representing a monetary value."},
}

// Embedder turns texts into equal-length vectors
type Embedder interface {
	GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)
}

// Match is a search hit
type Match struct {
	Document Document `json:"document"`
	Score    float64  `json:"score"`
}

// Index is an immutable set of documents and their vectors
type Index struct {
	documents  []Document
	vectors    [][]float32
	dimensions int
	embedder   Embedder
	builtAt    time.Time
}

// Builder produces documents for a source
type Builder struct {
	Hints []Hint
}

// NewBuilder returns a builder with the default hints
func NewBuilder() *Builder {
	return &Builder{Hints: DefaultHints}
}

// BuildDocuments describes each of tables and its columns
func (b *Builder) BuildDocuments(ctx context.Context, src datasource.Source, tables []string) ([]Document, error) {
	var docs []Document

	for _, table := range tables {
		docs = append(docs, Document{
			Text:  fmt.Sprintf("Table named '%s' contains data about %s.", table, humanize(table)),
			Kind:  TableDescription,
			Table: table,
		})

		columns, err := src.DescribeColumns(ctx, table)
		if err != nil {
			return nil, err
		}

		for _, col := range columns {
			docs = append(docs, Document{
				Text:   b.describeColumn(table, col),
				Kind:   ColumnDescription,
				Table:  table,
				Column: col.Name,
			})
		}
	}

	return docs, nil
}

func (b *Builder) describeColumn(table string, col datasource.Column) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "The column '%s' in the '%s' table holds %s information. Its data type is %s.",
		col.Name, table, humanize(col.Name), col.Type)

	lower := strings.ToLower(col.Name)
	for _, h := range b.Hints {
		if strings.Contains(lower, strings.ToLower(h.Substring)) {
			sb.WriteString(h.Text)
		}
	}

	return sb.String()
}

func humanize(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}

// BuildDocuments uses the default hints
func BuildDocuments(ctx context.Context, src datasource.Source, tables []string) ([]Document, error) {
	return NewBuilder().BuildDocuments(ctx, src, tables)
}

// BuildIndex describes the schema and embeds it in one batch. A schema with
// nothing to describe yields a nil index and a warning, not an error.
func (b *Builder) BuildIndex(ctx context.Context, src datasource.Source, tables []string, embedder Embedder) (*Index, error) {
	var idx *Index

	err := logging.LoggerMiddleware("build schema index", func() error {
		docs, err := b.BuildDocuments(ctx, src, tables)
		if err != nil {
			return err
		}

		if len(docs) == 0 {
			logging.Warn("Could not generate any context from the database schema")
			return nil
		}

		idx, err = NewIndex(ctx, docs, embedder)

		return err
	})
	if err != nil {
		return nil, err
	}

	return idx, nil
}

// BuildIndex uses the default hints
func BuildIndex(ctx context.Context, src datasource.Source, tables []string, embedder Embedder) (*Index, error) {
	return NewBuilder().BuildIndex(ctx, src, tables, embedder)
}

// NewIndex embeds docs. Every vector must have the same non-zero length.
func NewIndex(ctx context.Context, docs []Document, embedder Embedder) (*Index, error) {
	if embedder == nil {
		return nil, errors.New(errors.ErrTypeEmbedding, "no embedder configured")
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Text
	}

	vectors, err := embedder.GenerateEmbeddings(ctx, texts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeEmbedding, "failed to embed schema documents")
	}

	if len(vectors) != len(docs) {
		return nil, errors.Newf(errors.ErrTypeEmbedding, "expected %d embeddings, got %d", len(docs), len(vectors))
	}

	dims := len(vectors[0])
	if dims == 0 {
		return nil, errors.New(errors.ErrTypeEmbedding, "embedder returned empty vectors")
	}

	for i, v := range vectors {
		if len(v) != dims {
			return nil, errors.Newf(errors.ErrTypeEmbedding,
				"embedding %d has %d dimensions, expected %d", i, len(v), dims)
		}
	}

	logging.WithFields(map[string]interface{}{
		"documents":  len(docs),
		"dimensions": dims,
	}).Info("Built schema index")

	return &Index{
		documents:  append([]Document(nil), docs...),
		vectors:    vectors,
		dimensions: dims,
		embedder:   embedder,
		builtAt:    time.Now(),
	}, nil
}

// Len returns the number of documents
func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}

	return len(idx.documents)
}

// Documents returns a copy of the indexed documents in corpus order
func (idx *Index) Documents() []Document {
	if idx == nil {
		return nil
	}

	return append([]Document(nil), idx.documents...)
}

// Dimensions returns the vector length
func (idx *Index) Dimensions() int {
	return idx.dimensions
}

// BuiltAt returns when the index was built
func (idx *Index) BuiltAt() time.Time {
	return idx.builtAt
}

// Search returns the k most similar documents, highest score first. Equal
// scores keep corpus order.
func (idx *Index) Search(ctx context.Context, query string, k int) ([]Match, error) {
	if idx.Len() == 0 {
		return nil, nil
	}

	if k <= 0 {
		k = DefaultK
	}

	qv, err := idx.embedder.GenerateEmbeddings(ctx, []string{query})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeEmbedding, "failed to embed query")
	}

	if len(qv) != 1 || len(qv[0]) != idx.dimensions {
		return nil, errors.New(errors.ErrTypeEmbedding, "query embedding does not match index dimensions")
	}

	matches := make([]Match, len(idx.documents))
	for i, doc := range idx.documents {
		matches[i] = Match{Document: doc, Score: embedding.CosineSimilarity(qv[0], idx.vectors[i])}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	if k < len(matches) {
		matches = matches[:k]
	}

	return matches, nil
}

// Retrieve returns the texts of the top k documents separated by blank lines
func (idx *Index) Retrieve(ctx context.Context, query string, k int) (string, error) {
	matches, err := idx.Search(ctx, query, k)
	if err != nil {
		return "", err
	}

	texts := make([]string, len(matches))
	for i, m := range matches {
		texts[i] = m.Document.Text
	}

	return strings.Join(texts, "\n\n"), nil
}

// Holder publishes the current index. Readers never observe a partially
// built index; a rebuild swaps the whole pointer.
type Holder struct {
	ptr atomic.Pointer[Index]
}

// Load returns the current index, possibly nil
func (h *Holder) Load() *Index {
	return h.ptr.Load()
}

// Swap installs idx and returns the previous index
func (h *Holder) Swap(idx *Index) *Index {
	return h.ptr.Swap(idx)
}
