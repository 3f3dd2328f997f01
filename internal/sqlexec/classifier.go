// Package sqlexec decides whether model text is SQL or code, runs SQL with a
// row cap, and parks code for a human to run later.
package sqlexec

import "strings"

// Kind is the classification of a tool payload
type Kind int

const (
	KindSQL Kind = iota
	KindCode
)

func (k Kind) String() string {
	if k == KindSQL {
		return "sql"
	}

	return "code"
}

// Rules is the match table for classification. Text is SQL when its
// lower-cased trimmed form starts with a prefix or contains a marker.
//
// This is a heuristic: prose such as "take the rows from the sheet" contains
// " from " and classifies as SQL, while SQL opening with a comment classifies
// as code.
type Rules struct {
	Prefixes []string
	Contains []string
}

// DefaultRules covers read-only statements
var DefaultRules = Rules{
	Prefixes: []string{"select", "with", "show", "describe", "pragma"},
	Contains: []string{" from "},
}

// WriteRules extends DefaultRules with data modification statements
var WriteRules = Rules{
	Prefixes: append(append([]string{}, DefaultRules.Prefixes...), "insert", "update", "delete"),
	Contains: DefaultRules.Contains,
}

// RulesFor picks the match table for the write-statement setting
func RulesFor(allowWrites bool) Rules {
	if allowWrites {
		return WriteRules
	}

	return DefaultRules
}

// Classify is pure and deterministic. Callers reject blank text first.
func (r Rules) Classify(text string) Kind {
	t := strings.ToLower(strings.TrimSpace(text))

	for _, p := range r.Prefixes {
		if strings.HasPrefix(t, p) {
			return KindSQL
		}
	}

	for _, c := range r.Contains {
		if strings.Contains(t, c) {
			return KindSQL
		}
	}

	return KindCode
}

// Classify uses DefaultRules
func Classify(text string) Kind {
	return DefaultRules.Classify(text)
}
