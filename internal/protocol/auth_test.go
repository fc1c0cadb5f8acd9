package protocol

import "testing"

func TestParseAuthResponse(t *testing.T) {
	tests := []struct {
		raw     string
		success bool
	}{
		{`{"status":"success"}`, true},
		{`{"message":"User admin authenticated"}`, true},
		{`Authenticated, welcome back`, true},
		{`{"status":"failed","error":"bad credentials"}`, false},
		{`{"error":"unknown database"}`, false},
		{`access denied`, false},
	}

	for _, tt := range tests {
		resp := ParseAuthResponse(tt.raw)
		if AuthSucceeded(resp) != tt.success {
			t.Errorf("input=%q expected success=%v", tt.raw, tt.success)
		}
	}
}

func TestParseAuthResponseWrapsRawText(t *testing.T) {
	resp := ParseAuthResponse("not json at all\n")
	msg, ok := resp["message"].(string)
	if !ok || msg != "not json at all" {
		t.Errorf("expected wrapped message, got %v", resp)
	}
}

func TestAuthError(t *testing.T) {
	tests := []struct {
		raw    string
		expect string
	}{
		{`{"status":"failed","error":"bad credentials"}`, "bad credentials"},
		{`{"message":"access denied"}`, "access denied"},
		{`{"status":"failed"}`, "authentication failed with status failed"},
		{`{}`, "authentication failed"},
	}

	for _, tt := range tests {
		resp := ParseAuthResponse(tt.raw)
		if got := AuthError(resp); got != tt.expect {
			t.Errorf("input=%q expected %q, got %q", tt.raw, tt.expect, got)
		}
	}
}
