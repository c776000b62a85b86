// Package extract pulls a JSON value out of noisy free-text model output.
//
// Model replies may wrap JSON in a fenced code block, surround it with prose,
// or return a bare list. Each extraction strategy is an ordered attempt that
// either yields a well-formed JSON value or an error; the first success wins
// and no strategy ever panics on malformed input.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// Error variables for better error handling and testability
var (
	// ErrNotFound is returned when no strategy produced a parseable value.
	ErrNotFound = errors.New("no parseable JSON value found")
	// ErrNoMatch reports that a strategy's pattern did not occur in the text.
	ErrNoMatch = errors.New("pattern not present")
	// ErrUnbalanced reports that a scan never returned to depth zero.
	ErrUnbalanced = errors.New("unbalanced delimiters")
	// ErrInvalidJSON reports that a candidate span was not valid JSON.
	ErrInvalidJSON = errors.New("invalid JSON")
)

var (
	fencedObjectRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	fencedListRe   = regexp.MustCompile("(?s)```(?:json)?\\s*(\\[.*?\\])\\s*```")
)

// strategy is one ordered extraction attempt.
type strategy struct {
	name string
	run  func(text string) (json.RawMessage, error)
}

// Object extracts a JSON object. Bare lists are wrapped as {"dialogue": list}
// so that dialogue replies returned without their envelope still decode.
func Object(text string) (json.RawMessage, error) {
	return firstOf(text, []strategy{
		{"fenced_object", fenced(fencedObjectRe)},
		{"fenced_list", wrapDialogue(fenced(fencedListRe))},
		{"brace_scan", scan('{', '}')},
		{"bracket_scan", wrapDialogue(scan('[', ']'))},
	})
}

// List extracts a bare JSON list such as a batch of scenarios.
func List(text string) ([]json.RawMessage, error) {
	raw, err := firstOf(text, []strategy{
		{"fenced_list", fenced(fencedListRe)},
		{"bracket_scan", scan('[', ']')},
	})
	if err != nil {
		return nil, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}
	return items, nil
}

// FlatObject takes the span from the first '{' to the last '}' without
// nesting awareness. It suits replies that are asked for a single flat object.
func FlatObject(text string) (json.RawMessage, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start == -1 || end < start {
		return nil, ErrNoMatch
	}
	return parse(text[start : end+1])
}

func firstOf(text string, strategies []strategy) (json.RawMessage, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNotFound
	}
	var errs []error
	for _, s := range strategies {
		raw, err := s.run(text)
		if err == nil {
			return raw, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
	}
	return nil, fmt.Errorf("%w: %w", ErrNotFound, errors.Join(errs...))
}

func fenced(re *regexp.Regexp) func(string) (json.RawMessage, error) {
	return func(text string) (json.RawMessage, error) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return nil, ErrNoMatch
		}
		return parse(m[1])
	}
}

func wrapDialogue(inner func(string) (json.RawMessage, error)) func(string) (json.RawMessage, error) {
	return func(text string) (json.RawMessage, error) {
		raw, err := inner(text)
		if err != nil {
			return nil, err
		}
		wrapped := make([]byte, 0, len(raw)+14)
		wrapped = append(wrapped, `{"dialogue":`...)
		wrapped = append(wrapped, raw...)
		wrapped = append(wrapped, '}')
		return wrapped, nil
	}
}

// scan finds the first open delimiter and walks forward, ignoring delimiters
// inside quoted strings, until depth returns to zero. Only that first span is
// tried; a parse failure abandons the strategy.
func scan(open, close byte) func(string) (json.RawMessage, error) {
	return func(text string) (json.RawMessage, error) {
		start := strings.IndexByte(text, open)
		if start == -1 {
			return nil, ErrNoMatch
		}
		depth := 0
		inString, escaped := false, false
		for i := start; i < len(text); i++ {
			ch := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case ch == '\\':
					escaped = true
				case ch == '"':
					inString = false
				}
				continue
			}
			switch ch {
			case '"':
				inString = true
			case open:
				depth++
			case close:
				depth--
				if depth == 0 {
					return parse(text[start : i+1])
				}
			}
		}
		return nil, ErrUnbalanced
	}
}

func parse(span string) (json.RawMessage, error) {
	if !gjson.Valid(span) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(span), nil
}
