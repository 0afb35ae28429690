package model

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"klaus/types"
)

var fenceRe = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)```")

// ExtractJSON finds the JSON object in a model response: the body of the
// first code fence if there is one, else the first balanced {...} block.
func ExtractJSON(s string) (string, bool) {
	if m := fenceRe.FindStringSubmatch(s); m != nil && strings.TrimSpace(m[1]) != "" {
		return strings.TrimSpace(m[1]), true
	}
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	return balanced(s[start:], '{', '}')
}

// ExtractJSONArray is ExtractJSON for a top-level array. A response whose
// first bracket opens an object is not an array answer.
func ExtractJSONArray(s string) (string, bool) {
	if m := fenceRe.FindStringSubmatch(s); m != nil && strings.HasPrefix(strings.TrimSpace(m[1]), "[") {
		return strings.TrimSpace(m[1]), true
	}
	start := strings.IndexAny(s, "[{")
	if start < 0 || s[start] != '[' {
		return "", false
	}
	return balanced(s[start:], '[', ']')
}

// balanced returns the prefix of s up to the bracket that closes s[0].
// Brackets inside JSON strings are skipped.
func balanced(s string, open, close byte) (string, bool) {
	depth := 0
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		ch := s[i]
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
				return s[:i+1], true
			}
		}
	}
	return "", false
}

type DecodeStatus int

const (
	DecodeOK DecodeStatus = iota
	DecodeParseFailure
	DecodeSchemaViolation
)

func (s DecodeStatus) String() string {
	switch s {
	case DecodeOK:
		return "ok"
	case DecodeParseFailure:
		return "parse_failure"
	case DecodeSchemaViolation:
		return "schema_violation"
	default:
		return "unknown"
	}
}

// Decoded is the tagged result of decoding a model response.
type Decoded struct {
	Status DecodeStatus
	Answer types.ModelAnswer
	Err    error
}

type rawAnswer struct {
	Answer           *string  `json:"answer"`
	SupportedByFacts *bool    `json:"supported_by_facts"`
	Citations        []string `json:"citations"`
}

// DecodeAnswer extracts and strictly decodes a ModelAnswer. Missing
// "answer" or "supported_by_facts" fields, or fields of the wrong type,
// are schema violations.
func DecodeAnswer(raw string) Decoded {
	body, ok := ExtractJSON(raw)
	if !ok {
		return Decoded{Status: DecodeParseFailure, Err: errors.New("no JSON object in response")}
	}

	var ra rawAnswer
	if err := json.Unmarshal([]byte(body), &ra); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Decoded{Status: DecodeSchemaViolation, Err: err}
		}
		return Decoded{Status: DecodeParseFailure, Err: err}
	}
	if ra.Answer == nil || ra.SupportedByFacts == nil {
		return Decoded{Status: DecodeSchemaViolation, Err: errors.New("answer or supported_by_facts missing")}
	}

	return Decoded{
		Status: DecodeOK,
		Answer: types.ModelAnswer{
			Answer:           strings.TrimSpace(*ra.Answer),
			SupportedByFacts: *ra.SupportedByFacts,
			Citations:        ra.Citations,
		},
	}
}

// DecodeQueries reads a JSON array of search queries, keeping up to max
// non-empty strings.
func DecodeQueries(raw string, max int) []string {
	body, ok := ExtractJSONArray(raw)
	if !ok {
		return nil
	}
	var items []any
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return nil
	}
	var out []string
	for _, it := range items {
		s, ok := it.(string)
		if !ok || strings.TrimSpace(s) == "" {
			continue
		}
		out = append(out, strings.TrimSpace(s))
		if len(out) == max {
			break
		}
	}
	return out
}
