package provider

import (
	"encoding/json"
	"strings"
)

// URLExtractor pulls a result URL out of a decoded provider response.
type URLExtractor struct {
	Name    string
	Extract func(payload any) (string, bool)
	// Claims, when set, ends the search once it matches, even if Extract
	// found nothing.
	Claims func(payload any) bool
}

// DefaultExtractors is the priority order for prompt-edit responses.
var DefaultExtractors = []URLExtractor{
	{Name: "bare_string", Extract: bareString},
	{Name: "imageUrl", Extract: field("imageUrl")},
	{Name: "url", Extract: field("url")},
	{Name: "output", Extract: outputField, Claims: hasOutput},
	{Name: "data.url", Extract: nested("data", "url")},
	{Name: "data.imageUrl", Extract: nested("data", "imageUrl")},
}

// ExtractURL applies extractors in order and returns the first match.
func ExtractURL(payload any, extractors []URLExtractor) (string, string, bool) {
	for _, e := range extractors {
		if u, ok := e.Extract(payload); ok {
			return u, e.Name, true
		}
		if e.Claims != nil && e.Claims(payload) {
			return "", "", false
		}
	}
	return "", "", false
}

// DecodePayload decodes a response body. Bodies that are not JSON are
// returned as a trimmed string so a plain-text URL still matches.
func DecodePayload(body []byte) any {
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	return payload
}

func bareString(payload any) (string, bool) {
	s, ok := payload.(string)
	if !ok || !strings.HasPrefix(s, "http") {
		return "", false
	}
	return s, true
}

func field(name string) func(any) (string, bool) {
	return func(payload any) (string, bool) {
		obj, ok := payload.(map[string]any)
		if !ok {
			return "", false
		}
		return nonEmptyString(obj[name])
	}
}

func nested(outer, inner string) func(any) (string, bool) {
	get := field(inner)
	return func(payload any) (string, bool) {
		obj, ok := payload.(map[string]any)
		if !ok {
			return "", false
		}
		return get(obj[outer])
	}
}

// outputField handles "output" as a string, a list whose first entry is a
// string or an object with url, or an object with one of several URL keys.
func outputField(payload any) (string, bool) {
	obj, ok := payload.(map[string]any)
	if !ok {
		return "", false
	}

	switch out := obj["output"].(type) {
	case string:
		return nonEmptyString(out)
	case []any:
		if len(out) == 0 {
			return "", false
		}
		if s, ok := nonEmptyString(out[0]); ok {
			return s, true
		}
		return field("url")(out[0])
	case map[string]any:
		for _, key := range []string{"url", "imageUrl", "image_url", "image"} {
			if s, ok := nonEmptyString(out[key]); ok {
				return s, true
			}
		}
	}
	return "", false
}

// hasOutput reports an "output" key holding anything but null, false or "".
// An empty list or object still counts.
func hasOutput(payload any) bool {
	obj, ok := payload.(map[string]any)
	if !ok {
		return false
	}
	switch out := obj["output"].(type) {
	case nil:
		return false
	case bool:
		return out
	case string:
		return out != ""
	case float64:
		return out != 0
	default:
		return true
	}
}

func nonEmptyString(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
