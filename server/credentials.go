package server

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const (
	// legacyDigestRounds is the iteration count of the legacy password scheme.
	legacyDigestRounds = 20

	// PerishableTokenTTL bounds how long a perishable token stays redeemable.
	PerishableTokenTTL = 24 * time.Hour
)

// RandomHex returns n cryptographically random bytes, hex encoded.
// Used for access tokens, refresh tokens, grant codes, and client secrets.
func RandomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(buf)
}

// FriendlyToken returns a random base64url token (RFC 4648) with no padding
// and no whitespace. Used for salts, persistent tokens, and perishable tokens.
func FriendlyToken() string {
	buf := make([]byte, 15)
	if _, err := rand.Read(buf); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// LegacyDigest applies the historical password transform: the password and
// salt are concatenated, then SHA-512 is applied for a fixed number of
// rounds, each round hashing the hex encoding of the previous one.
func LegacyDigest(password, salt string) string {
	dig := password + salt
	for i := 0; i < legacyDigestRounds; i++ {
		sum := sha512.Sum512([]byte(dig))
		dig = hex.EncodeToString(sum[:])
	}
	return dig
}

// HashPassword produces a bcrypt digest for storage.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SecureCompare reports whether two strings are equal without leaking the
// position of the first difference.
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticated verifies a presented secret against the user's stored
// credentials. It returns true if any of the following match: the bcrypt
// password digest, the legacy iterated digest, a non-empty persistent
// token, or an unexpired perishable token.
func (u *User) Authenticated(secret string) bool {
	if u.PasswordDigest != "" {
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordDigest), []byte(secret)) == nil {
			return true
		}
	}
	if u.CryptedPassword != "" && SecureCompare(u.CryptedPassword, LegacyDigest(secret, u.PasswordSalt)) {
		return true
	}
	if u.PersistentToken != "" && SecureCompare(u.PersistentToken, secret) {
		return true
	}
	if u.PerishableTokenValid() && SecureCompare(u.PerishableToken, secret) {
		return true
	}
	return false
}

// SetPassword assigns a new password, always producing a fresh digest.
// The legacy digest pair is cleared so future verification goes through
// bcrypt only.
func (u *User) SetPassword(password string) error {
	if password == "" {
		u.PasswordDigest = ""
		return nil
	}
	digest, err := HashPassword(password)
	if err != nil {
		return err
	}
	u.PasswordDigest = digest
	u.CryptedPassword = ""
	u.PasswordSalt = ""
	return nil
}

// PasswordRequired reports whether the user still needs a password set.
func (u *User) PasswordRequired() bool {
	return u.PasswordDigest == "" && u.CryptedPassword == ""
}

// PerishableTokenValid reports whether the perishable token is present and
// unexpired.
func (u *User) PerishableTokenValid() bool {
	return u.PerishableToken != "" &&
		!u.PerishableTokenExpiresAt.IsZero() &&
		u.PerishableTokenExpiresAt.After(time.Now())
}

// ResetPerishableToken assigns a fresh perishable token valid for one day.
// The caller persists the user.
func (u *User) ResetPerishableToken() {
	u.PerishableToken = FriendlyToken()
	u.PerishableTokenExpiresAt = time.Now().Add(PerishableTokenTTL)
}
