package duplex

import (
	"testing"
	"time"
)

func TestParseMessageType(t *testing.T) {
	tests := []struct {
		raw  string
		want MessageType
	}{
		{"connectionStatus", TypeConnectionStatus},
		{"setLanguage", TypeSetLanguage},
		{"languageSet", TypeLanguageSet},
		{"newText", TypeNewText},
		{"translatedText", TypeTranslatedText},
		{"generateToken", TypeGenerateToken},
		{"tokenResponse", TypeTokenResponse},
		{"error", TypeError},
		{"", TypeUnknown},
		{"NEWTEXT", TypeUnknown},
		{"new_text", TypeUnknown},
		{"heartbeat", TypeUnknown},
	}
	for _, tc := range tests {
		if got := ParseMessageType(tc.raw); got != tc.want {
			t.Errorf("ParseMessageType(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestParseTokenResponseSuccess(t *testing.T) {
	data := map[string]any{
		"status": "success",
		"region": "eu-west-2",
		"credentials": map[string]any{
			"accessKeyId":     "ASIAEXAMPLE",
			"secretAccessKey": "secret",
			"sessionToken":    "token",
			"expiration":      "2026-08-29T12:00:00Z",
		},
	}

	resp, err := ParseTokenResponse(data)
	if err != nil {
		t.Fatalf("ParseTokenResponse: %v", err)
	}
	if !resp.Accepted() {
		t.Fatal("Accepted() = false for success response")
	}
	if resp.Credentials.AccessKeyID != "ASIAEXAMPLE" {
		t.Errorf("AccessKeyID = %q", resp.Credentials.AccessKeyID)
	}
	if resp.Credentials.SessionToken != "token" {
		t.Errorf("SessionToken = %q", resp.Credentials.SessionToken)
	}
	if resp.Region != "eu-west-2" {
		t.Errorf("Region = %q", resp.Region)
	}

	exp, err := resp.ExpiresAt()
	if err != nil {
		t.Fatalf("ExpiresAt: %v", err)
	}
	want := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	if !exp.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", exp, want)
	}
}

func TestParseTokenResponseRejected(t *testing.T) {
	resp, err := ParseTokenResponse(map[string]any{
		"status": "failure",
		"error":  "rate limited",
	})
	if err != nil {
		t.Fatalf("ParseTokenResponse: %v", err)
	}
	if resp.Accepted() {
		t.Fatal("Accepted() = true for rejected response")
	}
	if resp.Rejection() != "rate limited" {
		t.Errorf("Rejection() = %q", resp.Rejection())
	}
}

func TestRejectionFallsBackToReason(t *testing.T) {
	resp := &TokenResponse{Status: "failure", Reason: "unknown api key"}
	if got := resp.Rejection(); got != "unknown api key" {
		t.Errorf("Rejection() = %q", got)
	}
}

func TestParseTokenResponseSuccessWithoutCredentials(t *testing.T) {
	// A "success" status without a credentials object is still unusable.
	resp, err := ParseTokenResponse(map[string]any{"status": "success"})
	if err != nil {
		t.Fatalf("ParseTokenResponse: %v", err)
	}
	if resp.Accepted() {
		t.Fatal("Accepted() = true without credentials")
	}
}

func TestExpiresAtMissing(t *testing.T) {
	resp := &TokenResponse{
		Status:      "success",
		Credentials: &CredentialPayload{AccessKeyID: "k"},
	}
	exp, err := resp.ExpiresAt()
	if err != nil {
		t.Fatalf("ExpiresAt: %v", err)
	}
	if !exp.IsZero() {
		t.Errorf("ExpiresAt = %v, want zero time", exp)
	}
}

func TestExpiresAtMalformed(t *testing.T) {
	resp := &TokenResponse{
		Status:      "success",
		Credentials: &CredentialPayload{Expiration: "yesterday"},
	}
	if _, err := resp.ExpiresAt(); err == nil {
		t.Fatal("ExpiresAt: expected error for malformed timestamp")
	}
}
