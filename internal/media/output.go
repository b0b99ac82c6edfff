// Package media extracts the media URL from provider prediction output.
package media

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrNoOutput is returned when the prediction carries no output at all.
	ErrNoOutput = errors.New("media: no output")
	// ErrUnknownFormat is returned when the output matches none of the known shapes.
	ErrUnknownFormat = errors.New("media: unknown output format")
)

// Shape names the output layout a URL was extracted from.
type Shape string

const (
	ShapeString      Shape = "string"
	ShapeArray       Shape = "array"
	ShapeObjectURL   Shape = "object_url"
	ShapeImagesArray Shape = "images_array"
)

// Result is the extracted URL and where it came from.
type Result struct {
	URL   string
	Shape Shape
}

// ParseOutput accepts, in this order: a bare string, an array whose first
// element is a string or an object with url, an object with url, and an
// object with an images array of the same element forms.
func ParseOutput(raw json.RawMessage) (Result, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return Result{}, ErrNoOutput
	}

	var decoded any
	if err := json.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return Result{}, ErrUnknownFormat
	}

	switch out := decoded.(type) {
	case string:
		url := strings.TrimSpace(out)
		if url == "" {
			return Result{}, ErrNoOutput
		}
		return Result{URL: url, Shape: ShapeString}, nil
	case []any:
		if url, ok := firstURL(out); ok {
			return Result{URL: url, Shape: ShapeArray}, nil
		}
	case map[string]any:
		if url, ok := urlField(out); ok {
			return Result{URL: url, Shape: ShapeObjectURL}, nil
		}
		if images, ok := out["images"].([]any); ok {
			if url, ok := firstURL(images); ok {
				return Result{URL: url, Shape: ShapeImagesArray}, nil
			}
		}
	}
	return Result{}, ErrUnknownFormat
}

func firstURL(items []any) (string, bool) {
	if len(items) == 0 {
		return "", false
	}
	switch first := items[0].(type) {
	case string:
		url := strings.TrimSpace(first)
		return url, url != ""
	case map[string]any:
		return urlField(first)
	}
	return "", false
}

func urlField(obj map[string]any) (string, bool) {
	url, ok := obj["url"].(string)
	url = strings.TrimSpace(url)
	return url, ok && url != ""
}
