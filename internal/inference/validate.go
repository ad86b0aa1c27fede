package inference

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	msgFieldRequired = "field required"
	msgInvalidInt    = "value is not a valid integer"
	msgInvalidFloat  = "value is not a valid float"
	msgInvalidBody   = "value is not a valid dict"

	typeMissing      = "value_error.missing"
	typeInteger      = "type_error.integer"
	typeFloat        = "type_error.float"
	typeDict         = "type_error.dict"
	typeJSONDecoding = "value_error.jsondecode"
)

// jsonNumber is the JSON number grammar; numeric strings must match it too.
var jsonNumber = regexp.MustCompile(`^-?(?:0|[1-9][0-9]*)(?:\.[0-9]+)?(?:[eE][+-]?[0-9]+)?$`)

// FieldIssue describes one field that failed validation.
type FieldIssue struct {
	Loc  []string `json:"loc"`
	Msg  string   `json:"msg"`
	Type string   `json:"type"`
}

// ValidationError collects every field issue found in a request body.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Issues) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, strings.Join(is.Loc, ".")+": "+is.Msg)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields returns the names of the fields that failed, in column order.
func (e *ValidationError) Fields() []string {
	if e == nil {
		return nil
	}
	out := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		out = append(out, is.Loc[len(is.Loc)-1])
	}
	return out
}

type fieldKind int

const (
	kindInt fieldKind = iota
	kindFloat
)

type fieldSpec struct {
	name   string
	kind   fieldKind
	assign func(r *Record, i int64, f float64)
}

var recordFields = []fieldSpec{
	{name: "PRG", kind: kindInt, assign: func(r *Record, i int64, _ float64) { r.PRG = i }},
	{name: "PL", kind: kindInt, assign: func(r *Record, i int64, _ float64) { r.PL = i }},
	{name: "BP", kind: kindInt, assign: func(r *Record, i int64, _ float64) { r.BP = i }},
	{name: "SK", kind: kindInt, assign: func(r *Record, i int64, _ float64) { r.SK = i }},
	{name: "TS", kind: kindInt, assign: func(r *Record, i int64, _ float64) { r.TS = i }},
	{name: "BMI", kind: kindFloat, assign: func(r *Record, _ int64, f float64) { r.BMI = f }},
	{name: "BD2", kind: kindFloat, assign: func(r *Record, _ int64, f float64) { r.BD2 = f }},
	{name: "Age", kind: kindInt, assign: func(r *Record, i int64, _ float64) { r.Age = i }},
}

// DecodeRecord parses and type-checks a JSON request body.
// All issues are reported together; a non-nil error is always a *ValidationError.
func DecodeRecord(body []byte) (Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || raw == nil {
		issue := FieldIssue{Loc: []string{"body"}, Msg: msgInvalidBody, Type: typeDict}
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			issue.Msg = "invalid JSON: " + syn.Error()
			issue.Type = typeJSONDecoding
		}
		return Record{}, &ValidationError{Issues: []FieldIssue{issue}}
	}

	var (
		rec    Record
		issues []FieldIssue
	)
	for _, f := range recordFields {
		val, ok := raw[f.name]
		if !ok || isNull(val) {
			issues = append(issues, FieldIssue{Loc: []string{"body", f.name}, Msg: msgFieldRequired, Type: typeMissing})
			continue
		}
		switch f.kind {
		case kindInt:
			n, ok := parseInt(val)
			if !ok {
				issues = append(issues, FieldIssue{Loc: []string{"body", f.name}, Msg: msgInvalidInt, Type: typeInteger})
				continue
			}
			f.assign(&rec, n, 0)
		case kindFloat:
			x, ok := parseFloat(val)
			if !ok {
				issues = append(issues, FieldIssue{Loc: []string{"body", f.name}, Msg: msgInvalidFloat, Type: typeFloat})
				continue
			}
			f.assign(&rec, 0, x)
		}
	}
	if len(issues) > 0 {
		return Record{}, &ValidationError{Issues: issues}
	}
	return rec, nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// numericText extracts the literal text of a JSON number or numeric string.
func numericText(v json.RawMessage) (string, bool) {
	v = bytes.TrimSpace(v)
	if len(v) == 0 {
		return "", false
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		if !jsonNumber.MatchString(s) {
			return "", false
		}
		return s, true
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(v), true
	default:
		return "", false
	}
}

func parseInt(v json.RawMessage) (int64, bool) {
	text, ok := numericText(v)
	if !ok {
		return 0, false
	}
	if n, err := strconv.ParseInt(text, 10, 64); err == nil {
		return n, true
	}
	// 60.0 and 6e1 are integral values.
	x, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false
	}
	// float64(math.MaxInt64) rounds up to 2^63, which int64 cannot hold.
	if x != math.Trunc(x) || x >= 1<<63 || x < -(1<<63) {
		return 0, false
	}
	return int64(x), true
}

func parseFloat(v json.RawMessage) (float64, bool) {
	text, ok := numericText(v)
	if !ok {
		return 0, false
	}
	x, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false
	}
	return x, true
}
