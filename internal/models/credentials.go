package models

// Credentials is the plaintext login material a user submits through the
// widget. It exists only transiently: encrypted immediately at intake,
// decrypted only inside the worker, and never logged, persisted, or placed
// in an event payload.
type Credentials struct {
	Provider string `json:"provider" validate:"required"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	OTP      string `json:"otp,omitempty"`
}

// Scrub zeroes the secret fields in place. Workers defer it so plaintext
// does not outlive the job that needed it.
func (c *Credentials) Scrub() {
	if c == nil {
		return
	}
	c.Username = ""
	c.Password = ""
	c.OTP = ""
}
