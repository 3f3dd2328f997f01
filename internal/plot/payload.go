package plot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kyleking/sqlchat/internal/errors"
)

const (
	OpenMarker  = "[PLOTLY_JSON]"
	CloseMarker = "[/PLOTLY_JSON]"
)

var payloadPattern = regexp.MustCompile(`(?s)\[PLOTLY_JSON\](.*?)\[/PLOTLY_JSON\]`)

// Payload is a validated chart document. The bytes are kept verbatim so
// fields this package does not model survive a round trip.
type Payload struct {
	raw json.RawMessage
}

// NewPayload validates that data is a JSON object
func NewPayload(data []byte) (*Payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' || !json.Valid(trimmed) {
		return nil, errors.New(errors.ErrTypeRender, "plot payload is not a JSON object")
	}

	raw := make(json.RawMessage, len(trimmed))
	copy(raw, trimmed)

	return &Payload{raw: raw}, nil
}

// FromFigure serializes a figure into a payload
func FromFigure(fig *Figure) (*Payload, error) {
	data, err := json.Marshal(fig)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeRender, "failed to serialize figure")
	}

	return &Payload{raw: data}, nil
}

// Raw returns the payload bytes
func (p *Payload) Raw() json.RawMessage {
	return p.raw
}

// String returns the payload as JSON text
func (p *Payload) String() string {
	return string(p.raw)
}

// Figure decodes the payload into a generic chart description
func (p *Payload) Figure() (map[string]any, error) {
	var doc map[string]any
	if err := json.Unmarshal(p.raw, &doc); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeRender, "failed to decode plot payload")
	}

	return doc, nil
}

// MarshalJSON emits the payload unchanged
func (p *Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}

	return p.raw, nil
}

// UnmarshalJSON validates and stores a payload
func (p *Payload) UnmarshalJSON(data []byte) error {
	parsed, err := NewPayload(data)
	if err != nil {
		return err
	}

	p.raw = parsed.raw

	return nil
}

// Marked returns the payload wrapped in its text markers
func (p *Payload) Marked() string {
	return OpenMarker + string(p.raw) + CloseMarker
}

// Wrap serializes fig and wraps it in markers
func Wrap(fig *Figure) (string, error) {
	p, err := FromFigure(fig)
	if err != nil {
		return "", err
	}

	return p.Marked(), nil
}

// Extraction is the result of scanning answer text for a payload
type Extraction struct {
	// Text is what remains to be displayed
	Text    string
	Payload *Payload
	// Err is a render error; the answer text is still usable when set
	Err error
}

// Extract pulls at most one payload out of text. A malformed payload or more
// than one block leaves the text untouched and reports a render error;
// unpaired markers are ordinary text.
func Extract(text string) Extraction {
	matches := payloadPattern.FindAllStringSubmatchIndex(text, -1)

	switch len(matches) {
	case 0:
		return Extraction{Text: text}
	case 1:
	default:
		return Extraction{
			Text: text,
			Err:  errors.Newf(errors.ErrTypeRender, "answer contains %d plot payloads, expected at most one", len(matches)),
		}
	}

	m := matches[0]

	p, err := NewPayload([]byte(text[m[2]:m[3]]))
	if err != nil {
		return Extraction{Text: text, Err: err}
	}

	residual := text[:m[0]] + text[m[1]:]

	return Extraction{Text: strings.TrimSpace(residual), Payload: p}
}

// Contains reports whether text carries a well-formed marker pair
func Contains(text string) bool {
	return payloadPattern.MatchString(text)
}

// Strip removes every marker block from text, replacing each with note
func Strip(text, note string) string {
	return strings.TrimSpace(payloadPattern.ReplaceAllLiteralString(text, note))
}

// Describe summarizes a payload for logs
func Describe(p *Payload) string {
	if p == nil {
		return "none"
	}

	return fmt.Sprintf("%d bytes", len(p.raw))
}
