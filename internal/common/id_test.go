package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSessionID(t *testing.T) {
	id := NewSessionID()
	assert.True(t, len(id) > 20)
	assert.Contains(t, id, "ses_")

	assert.NotEqual(t, id, NewSessionID(), "ids are unguessable, never sequential")
}

func TestNewMessageID(t *testing.T) {
	id := NewMessageID()
	assert.Contains(t, id, "msg_")
	assert.NotEqual(t, id, NewMessageID())
}
