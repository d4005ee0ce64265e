package auth

import "time"

// ValidityBuffer is subtracted from a token's lifetime when deciding whether
// it is still usable. A token expiring within the buffer is treated as
// expired so that in-flight requests never carry a token that dies mid-call.
const ValidityBuffer = 5 * time.Minute

// AccessToken is a bearer token with its absolute expiry.
// Superseded whole by the next acquisition, never mutated in place.
type AccessToken struct {
	Value     string
	ExpiresOn time.Time
}

// Valid reports whether the token is usable at the given instant,
// i.e. it expires strictly after now plus the validity buffer.
func (t AccessToken) Valid(now time.Time) bool {
	return t.Value != "" && t.ExpiresOn.After(now.Add(ValidityBuffer))
}
