package models

import "errors"

// ErrNoMessage is returned by a queue receive when nothing is ready.
var ErrNoMessage = errors.New("no message available")

// Job is the work item handed from intake to a worker. Credentials travel
// only as the opaque encrypted token; the queue never sees plaintext.
type Job struct {
	SessionID            string `json:"session_id"`
	EncryptedCredentials string `json:"encrypted_credentials"`
}
