package gateway

import "encoding/json"

// jsonError renders spec §7's error taxonomy shape:
// {"error":{"type":...,"message":...}}.
func jsonError(errType, message string) []byte {
	body, _ := json.Marshal(map[string]any{
		"error": map[string]string{
			"type":    errType,
			"message": message,
		},
	})
	return body
}
