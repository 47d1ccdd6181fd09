package common

import (
	"crypto/rand"
	"encoding/base64"

	"github.com/google/uuid"
)

// NewSessionID generates an unguessable, URL-safe session token with the
// "ses_" prefix. The token is the sole correlation key across intake, queue,
// and worker and acts as a bearer credential for the widget endpoints, so it
// must come from a CSPRNG, never from user-supplied input.
func NewSessionID() string {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform entropy source is broken;
		// there is no safe fallback for a bearer token.
		panic("common: crypto/rand unavailable: " + err.Error())
	}
	return "ses_" + base64.RawURLEncoding.EncodeToString(buf)
}

// NewMessageID generates a unique queue message ID with the "msg_" prefix.
// Format: msg_<uuid>
func NewMessageID() string {
	return "msg_" + uuid.New().String()
}
