package creds

import "strings"

// expiryPhrases are the substrings, compared case-insensitively, that mark a
// provider error as a credential-expiry failure. They cover the wording of
// the STS/transcription services across SDK versions; other auth failures
// (access denied, bad signature, expired TLS certificates) deliberately fall
// outside the set because a fresh token would not fix them.
var expiryPhrases = []string{
	"security token included in the request is expired",
	"expiredtokenexception",
	"token has expired",
	"security token expired",
	"credentials have expired",
}

// IsExpired reports whether err describes expired session credentials, i.e.
// a failure that a token refresh can cure.
func IsExpired(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range expiryPhrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
