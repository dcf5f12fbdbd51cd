package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
)

// SanitizePayload strips the C0 and C1 control characters (and DEL) that the
// worker's serializer leaves inside string-encoded payloads.
func SanitizePayload(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			return -1
		}
		return r
	}, s)
}

// DecodePayload normalizes a result payload into structured JSON. Structured
// payloads pass through unchanged; string payloads are sanitized and decoded
// a second time. A null or empty payload yields nil.
func DecodePayload(raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	if trimmed[0] != '"' {
		if !json.Valid(trimmed) {
			return nil, decodingError(string(trimmed))
		}
		return json.RawMessage(trimmed), nil
	}

	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return nil, decodingError(string(trimmed))
	}
	clean := strings.TrimSpace(SanitizePayload(s))
	if clean == "" {
		return nil, nil
	}
	if !json.Valid([]byte(clean)) {
		return nil, decodingError(s)
	}
	return json.RawMessage(clean), nil
}

// UnwrapInnerException extracts a human-readable message from a failure's
// InnerException field. The field may be an object with a Message, an object
// nesting another InnerException, or a string that itself encodes either.
func UnwrapInnerException(raw json.RawMessage) string {
	return unwrapException(raw, 0)
}

const maxExceptionDepth = 8

func unwrapException(raw json.RawMessage, depth int) string {
	trimmed := bytes.TrimSpace(raw)
	if depth > maxExceptionDepth || len(trimmed) == 0 || string(trimmed) == "null" {
		return ""
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return ""
		}
		clean := strings.TrimSpace(SanitizePayload(s))
		if strings.HasPrefix(clean, "{") && json.Valid([]byte(clean)) {
			if msg := unwrapException(json.RawMessage(clean), depth+1); msg != "" {
				return msg
			}
		}
		return clean
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return ""
		}
		for _, key := range []string{"Message", "message"} {
			if v, ok := fields[key]; ok {
				var msg string
				if json.Unmarshal(v, &msg) == nil && strings.TrimSpace(msg) != "" {
					return strings.TrimSpace(SanitizePayload(msg))
				}
			}
		}
		for _, key := range []string{"InnerException", "innerException"} {
			if v, ok := fields[key]; ok {
				if msg := unwrapException(v, depth+1); msg != "" {
					return msg
				}
			}
		}
	}
	return ""
}

// FailureMessage builds the message of a Failure result: the unwrapped inner
// exception, else a message carried by the payload, else a generic text.
func FailureMessage(res *Result) string {
	if msg := UnwrapInnerException(res.InnerException); msg != "" {
		return msg
	}
	if msg := unwrapException(res.Payload, 0); msg != "" {
		return msg
	}
	return "worker reported failure"
}
