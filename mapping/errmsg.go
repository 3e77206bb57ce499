package mapping

import (
	"encoding/json"
	"strings"
)

// messageFields is the fixed priority list of message-like fields probed on
// heterogeneous provider/ledger error payloads.
var messageFields = []string{"message", "error", "hint", "details"}

// ErrorMessage returns the first non-empty message-like field from an
// error-shaped payload, or fallback when none is present.
func ErrorMessage(payload map[string]interface{}, fallback string) string {
	for _, field := range messageFields {
		if value, ok := payload[field].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return fallback
}

// ErrorMessageFromError marshals err and probes the result with ErrorMessage.
// Typed provider errors (e.g. stripe.Error) expose their user-facing message
// through json tags; plain errors marshal to an empty object and fall back.
func ErrorMessageFromError(err error, fallback string) string {
	if err == nil {
		return fallback
	}
	raw, marshalErr := json.Marshal(err)
	if marshalErr != nil {
		return fallback
	}
	var payload map[string]interface{}
	if json.Unmarshal(raw, &payload) != nil {
		return fallback
	}
	return ErrorMessage(payload, fallback)
}
