package model

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"
)

const (
	passwordIterations = 10000
	passwordSaltSize   = 16
	passwordKeySize    = 32
)

// Password is a salted PBKDF2-HMAC-SHA256 hash. Both parts are base64 encoded.
type Password struct {
	Hash string `json:"hash"`
	Salt string `json:"salt"`
}

// NewPassword hashes plain with a fresh random salt.
func NewPassword(plain string) Password {
	salt := make([]byte, passwordSaltSize)
	if _, err := rand.Read(salt); err != nil {
		panic("model: unable to read random salt: " + err.Error())
	}
	return Password{
		Hash: hashPassword(plain, salt),
		Salt: base64.StdEncoding.EncodeToString(salt),
	}
}

// IsEmpty reports whether no password has been set.
func (p Password) IsEmpty() bool {
	return p.Hash == ""
}

// Verify reports whether plain matches. An empty password never matches.
func (p Password) Verify(plain string) bool {
	if p.IsEmpty() {
		return false
	}
	salt, err := base64.StdEncoding.DecodeString(p.Salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(hashPassword(plain, salt)), []byte(p.Hash)) == 1
}

func hashPassword(plain string, salt []byte) string {
	key := pbkdf2.Key([]byte(plain), salt, passwordIterations, passwordKeySize, sha256.New)
	return base64.StdEncoding.EncodeToString(key)
}
