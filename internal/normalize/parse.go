package normalize

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrMalformedResponse = errors.New("malformed model response")
	ErrEmptyResponse     = errors.New("the AI returned an empty response")
)

// MalformedResponseError keeps the raw and sanitized text for logging only.
type MalformedResponseError struct {
	Raw       string
	Sanitized string
	Err       error
}

func (e *MalformedResponseError) Error() string {
	return "The AI returned an invalid response format. Please try again."
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

func (e *MalformedResponseError) Is(target error) bool { return target == ErrMalformedResponse }

// Parse runs the full pipeline: sanitize, decode, camelCase keys, reconcile.
func Parse(raw string) (any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &MalformedResponseError{Raw: raw, Err: ErrEmptyResponse}
	}

	sanitized := Sanitize(raw)
	var decoded any
	if err := json.Unmarshal([]byte(sanitized), &decoded); err != nil {
		return nil, &MalformedResponseError{Raw: raw, Sanitized: sanitized, Err: err}
	}

	return Reconcile(CamelCaseKeys(decoded)), nil
}

// Decode parses raw and binds the normalized value onto T.
func Decode[T any](raw string) (T, error) {
	var out T
	v, err := Parse(raw)
	if err != nil {
		return out, err
	}

	b, err := json.Marshal(v)
	if err != nil {
		return out, &MalformedResponseError{Raw: raw, Err: err}
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, &MalformedResponseError{Raw: raw, Sanitized: string(b), Err: err}
	}
	return out, nil
}
