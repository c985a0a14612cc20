package oauth2as

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// validChallengeChars is RFC 7636's code-verifier charset: unreserved URI
// characters plus "-._~".
func validChallengeChars(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '.' || r == '_' || r == '~':
		default:
			return false
		}
	}
	return true
}

// VerifyPKCE checks a presented code_verifier against the code_challenge
// stored at /authorize time. Only S256 is accepted; callers must reject
// "plain" before ever calling this.
func VerifyPKCE(verifier, challenge string) bool {
	if len(verifier) < 43 || len(verifier) > 128 {
		return false
	}
	if !validChallengeChars(verifier) {
		return false
	}

	sum := sha256.Sum256([]byte(verifier))
	computed := base64.RawURLEncoding.EncodeToString(sum[:])

	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}
