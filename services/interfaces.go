package services

// PasswordHasher hashes and verifies passwords and backup-style secrets.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Verify returns nil on match and an error otherwise.
	Verify(hashedPassword, password string) error
	// Check is Verify as a bool; false for any mismatch or malformed digest.
	Check(hashedPassword, password string) bool
}
