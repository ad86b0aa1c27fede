package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
)

// LabelEncoder holds the class names the target was encoded with at fit time.
// Index i is the name of raw label i.
type LabelEncoder struct {
	Classes []string `json:"classes"`
}

// Decode returns the class name for a raw label.
func (e *LabelEncoder) Decode(label int64) (string, bool) {
	if e == nil || label < 0 || label >= int64(len(e.Classes)) {
		return "", false
	}
	return e.Classes[label], true
}

// loadLabels accepts ["Negative","Positive"], {"classes":[...]} or {"0":"Negative","1":"Positive"}.
func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var arr []string
	if err := json.Unmarshal(data, &arr); err == nil && len(arr) > 0 {
		return arr, nil
	}

	var wrapped struct {
		Classes []string `json:"classes"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil && len(wrapped.Classes) > 0 {
		return wrapped.Classes, nil
	}

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, errors.New("label encoder has no classes")
	}

	out := make([]string, len(m))
	seen := make(map[int]string, len(m))
	for k, v := range m {
		idx, convErr := strconv.Atoi(k)
		if convErr != nil {
			return nil, fmt.Errorf("invalid label index %q: %w", k, convErr)
		}
		if idx < 0 || idx >= len(m) {
			return nil, fmt.Errorf("label index %d out of range", idx)
		}
		// "0" and "00" name the same index.
		if prev, dup := seen[idx]; dup {
			return nil, fmt.Errorf("label index %d given twice (%q and %q)", idx, prev, k)
		}
		seen[idx] = k
		out[idx] = v
	}
	for i, name := range out {
		if name == "" {
			return nil, fmt.Errorf("label index %d has an empty class name", i)
		}
	}
	return out, nil
}
