package oauth2as

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"
)

func challengeFor(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func TestVerifyPKCEAcceptsMatchingPair(t *testing.T) {
	verifier := strings.Repeat("a", 43)
	if !VerifyPKCE(verifier, challengeFor(verifier)) {
		t.Error("expected matching verifier/challenge pair to verify")
	}
}

func TestVerifyPKCERejectsMismatchedChallenge(t *testing.T) {
	verifier := strings.Repeat("a", 43)
	if VerifyPKCE(verifier, challengeFor("something-else-entirely-1234567890123")) {
		t.Error("expected mismatched challenge to be rejected")
	}
}

func TestVerifyPKCERejectsTooShortVerifier(t *testing.T) {
	verifier := strings.Repeat("a", 42)
	if VerifyPKCE(verifier, challengeFor(verifier)) {
		t.Error("expected a 42-character verifier to be rejected")
	}
}

func TestVerifyPKCERejectsTooLongVerifier(t *testing.T) {
	verifier := strings.Repeat("a", 129)
	if VerifyPKCE(verifier, challengeFor(verifier)) {
		t.Error("expected a 129-character verifier to be rejected")
	}
}

func TestVerifyPKCERejectsInvalidCharacters(t *testing.T) {
	verifier := strings.Repeat("a", 42) + "!"
	if VerifyPKCE(verifier, challengeFor(verifier)) {
		t.Error("expected a verifier with '!' to be rejected")
	}
}

func TestVerifyPKCEAcceptsAllowedSpecialCharacters(t *testing.T) {
	verifier := strings.Repeat("a", 39) + "-._~"
	if !VerifyPKCE(verifier, challengeFor(verifier)) {
		t.Error("expected '-._~' to be accepted in the verifier charset")
	}
}
