package remote

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/starford/convsync/internal/models"
)

type envelope struct {
	Data       json.RawMessage    `json:"data"`
	Pagination *models.Pagination `json:"pagination,omitempty"`
}

// unwrap returns the payload of a {"data": ...} envelope, or the body itself
// when the service answered with a bare payload.
func unwrap(body []byte) (json.RawMessage, *models.Pagination) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err == nil && env.Data != nil {
			return env.Data, env.Pagination
		}
	}
	return trimmed, nil
}

func isList(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}

// decodeList decodes a list payload. A payload that is not list-shaped
// yields an empty result rather than an error.
func decodeList[T any](body []byte) ([]T, *models.Pagination, error) {
	raw, page := unwrap(body)
	if !isList(raw) {
		return nil, page, nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, page, fmt.Errorf("remote: decode list: %w", err)
	}
	return out, page, nil
}

// decodeObject decodes a single-object payload; anything else is malformed.
func decodeObject[T any](body []byte) (T, error) {
	var out T
	raw, _ := unwrap(body)
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return out, fmt.Errorf("remote: malformed response: expected object")
	}
	if err := json.Unmarshal(trimmed, &out); err != nil {
		return out, fmt.Errorf("remote: decode object: %w", err)
	}
	return out, nil
}
