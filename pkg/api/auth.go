package api

import (
	"crypto/subtle"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash is compared against when the username is unknown so that
// both paths cost one bcrypt comparison.
const dummyHash = "$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z3vU8ZPYcNRp6QX0y0wWcX6W"

// authenticate checks basic auth credentials against the configured users.
func (s *server) authenticate(username, password string) bool {
	hash := dummyHash
	found := false

	for _, u := range s.cfg.Server.BasicAuth.Users {
		if subtle.ConstantTimeCompare([]byte(u.Username), []byte(username)) == 1 {
			hash = u.PasswordHash
			found = true

			break
		}
	}

	return checkPassword(hash, password) && found
}

// checkPassword compares a bcrypt hash with a plaintext password.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword(
		[]byte(hash), []byte(password),
	) == nil
}
