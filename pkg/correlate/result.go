package correlate

import (
	"encoding/json"
	"errors"
)

var errMalformedResult = errors.New("result body is not valid JSON after two decode passes")

// ExtractResult pulls the result body out of a matched event payload. The
// server frequently double-encodes results (a JSON string containing a JSON
// string containing the real object), so string bodies get up to two
// sequential decode passes before extraction gives up.
//
// Lookup order: outputs.value when outputs is an object with a single
// encoded value, then outputs itself, then exec_data.
func ExtractResult(data map[string]any) (any, error) {
	body, ok := data["outputs"]
	if !ok {
		body, ok = data["exec_data"]
	}

	if !ok || body == nil {
		// A success event with no body resolves to an empty result.
		return nil, nil
	}

	if m, isMap := body.(map[string]any); isMap {
		if inner, hasValue := m["value"]; hasValue && len(m) == 1 {
			return decodeBody(inner)
		}

		return m, nil
	}

	return decodeBody(body)
}

// decodeBody resolves a possibly double-encoded value.
func decodeBody(v any) (any, error) {
	for pass := 0; pass < 2; pass++ {
		s, isString := v.(string)
		if !isString {
			return v, nil
		}

		var decoded any
		if err := json.Unmarshal([]byte(s), &decoded); err != nil {
			return nil, errMalformedResult
		}

		v = decoded
	}

	return v, nil
}
