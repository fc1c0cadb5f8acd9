package protocol

import (
	"encoding/json"
	"strings"
)

// authSuccessMarker appears in the message field of older server versions
// that do not send an explicit status.
const authSuccessMarker = "authenticated"

// ParseAuthResponse parses the server's reply to the connection string. A
// reply that is not a JSON object is wrapped as {"message": <raw text>}.
func ParseAuthResponse(raw string) map[string]interface{} {
	trimmed := strings.TrimSpace(raw)
	var resp map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil || resp == nil {
		return map[string]interface{}{"message": trimmed}
	}
	return resp
}

// AuthSucceeded reports whether the parsed handshake reply signals success:
// either status == "success" or a message carrying the success marker.
func AuthSucceeded(resp map[string]interface{}) bool {
	if status, ok := resp["status"].(string); ok && status == "success" {
		return true
	}
	if msg, ok := resp["message"].(string); ok {
		return strings.Contains(strings.ToLower(msg), authSuccessMarker)
	}
	return false
}

// AuthError extracts the failure detail from a non-success handshake reply.
func AuthError(resp map[string]interface{}) string {
	if errText, ok := resp["error"].(string); ok && errText != "" {
		return errText
	}
	if msg, ok := resp["message"].(string); ok && msg != "" {
		return msg
	}
	if status, ok := resp["status"].(string); ok && status != "" {
		return "authentication failed with status " + status
	}
	return "authentication failed"
}
