// Package duplex implements the bidirectional WebSocket channel between this
// client and the relay broker.
//
// Every frame on the wire is a JSON envelope with a "type" discriminator and
// a free-form "data" object. The channel dispatches inbound envelopes to
// per-type handlers and reconnects automatically when the transport drops.
package duplex

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType is the envelope discriminator used on the wire.
type MessageType string

// Wire message types exchanged with the broker.
const (
	TypeConnectionStatus MessageType = "connectionStatus"
	TypeSetLanguage      MessageType = "setLanguage"
	TypeLanguageSet      MessageType = "languageSet"
	TypeNewText          MessageType = "newText"
	TypeTranslatedText   MessageType = "translatedText"
	TypeGenerateToken    MessageType = "generateToken"
	TypeTokenResponse    MessageType = "tokenResponse"
	TypeError            MessageType = "error"

	// TypeUnknown marks an envelope whose type is not part of the protocol.
	TypeUnknown MessageType = ""
)

// knownTypes is the set of envelope types this client understands. Inbound
// envelopes outside this set are dropped by the read loop.
var knownTypes = map[MessageType]struct{}{
	TypeConnectionStatus: {},
	TypeSetLanguage:      {},
	TypeLanguageSet:      {},
	TypeNewText:          {},
	TypeTranslatedText:   {},
	TypeGenerateToken:    {},
	TypeTokenResponse:    {},
	TypeError:            {},
}

// ParseMessageType maps a raw wire string onto a MessageType, returning
// TypeUnknown for anything outside the protocol.
func ParseMessageType(s string) MessageType {
	t := MessageType(s)
	if _, ok := knownTypes[t]; ok {
		return t
	}
	return TypeUnknown
}

// Message is the JSON envelope carried on every WebSocket frame.
type Message struct {
	Type MessageType    `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// NewMessage builds an envelope of the given type with the given payload.
func NewMessage(t MessageType, data map[string]any) Message {
	return Message{Type: t, Data: data}
}

// CredentialPayload is the credentials object inside a tokenResponse envelope.
type CredentialPayload struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	SessionToken    string `json:"sessionToken"`
	Expiration      string `json:"expiration,omitempty"`
}

// TokenResponse is the decoded payload of a tokenResponse envelope. The
// broker sets Status to "success" when Credentials are usable; any other
// status is a rejection. Broker versions have carried the explanation under
// both "error" and "reason"; [TokenResponse.Rejection] checks both.
type TokenResponse struct {
	Status      string             `json:"status"`
	ErrorText   string             `json:"error,omitempty"`
	Reason      string             `json:"reason,omitempty"`
	Credentials *CredentialPayload `json:"credentials,omitempty"`
	Region      string             `json:"region,omitempty"`
}

// Accepted reports whether the broker granted credentials.
func (r *TokenResponse) Accepted() bool {
	return r.Status == "success" && r.Credentials != nil
}

// Rejection returns the broker's explanation for a non-success response.
func (r *TokenResponse) Rejection() string {
	if r.ErrorText != "" {
		return r.ErrorText
	}
	return r.Reason
}

// ExpiresAt parses the RFC 3339 expiration timestamp, returning the zero
// time when the broker omitted it.
func (r *TokenResponse) ExpiresAt() (time.Time, error) {
	if r.Credentials == nil || r.Credentials.Expiration == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse(time.RFC3339, r.Credentials.Expiration)
	if err != nil {
		return time.Time{}, fmt.Errorf("duplex: parse expiration: %w", err)
	}
	return ts, nil
}

// ParseTokenResponse decodes the free-form data object of a tokenResponse
// envelope into its typed form.
func ParseTokenResponse(data map[string]any) (*TokenResponse, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("duplex: encode token response: %w", err)
	}
	var resp TokenResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("duplex: decode token response: %w", err)
	}
	return &resp, nil
}
