package flags

import "encoding/json"

// ResolvePayload looks up the payload associated with a flag's evaluated
// value, per spec.md §4.13: keyed by the variant key for multivariate
// results, or by the literal string "true"/"false" for boolean results.
// Payloads are stored as raw JSON text server-side; a string payload is
// re-parsed as JSON and falls back to the raw string if it doesn't parse.
func ResolvePayload(def FlagDefinition, result FlagResult) any {
	if def.Filters.Payloads == nil {
		return nil
	}

	key := payloadKey(result.Value)
	raw, ok := def.Filters.Payloads[key]
	if !ok {
		return nil
	}
	return decodePayload(raw)
}

func payloadKey(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	default:
		return "false"
	}
}

func decodePayload(raw any) any {
	return DecodeJSONPayload(raw)
}

// DecodeJSONPayload re-parses a payload that may itself be JSON-encoded as
// a string (the wire representation used by both the local-evaluation and
// decide endpoints), falling back to the raw value if it isn't.
func DecodeJSONPayload(raw any) any {
	s, ok := raw.(string)
	if !ok {
		return raw
	}
	var decoded any
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return s
	}
	return decoded
}
