package jwks

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/trailforge/authcore/pkg/errx"
	"github.com/trailforge/authcore/pkg/logx"
)

const defaultKeySizeBits = 2048

// loadedKey is a parsed keypair kept alongside its database record so
// Sign/Verify never have to touch PEM parsing on the hot path.
type loadedKey struct {
	record  RSAKeyPair
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// Manager is the in-memory, mutex-guarded view over KeyRepository, matching
// the rest of the codebase's "load once at startup, mutate under a
// sync.RWMutex" approach to shared server-wide state.
type Manager struct {
	mu          sync.RWMutex
	keys        map[string]*loadedKey // by kid
	activeKID   string
	repo        KeyRepository
	keySizeBits int
}

// NewManager loads every persisted keypair into memory. If none exist yet,
// it generates and persists the first one.
func NewManager(ctx context.Context, repo KeyRepository, keySizeBits int) (*Manager, error) {
	if keySizeBits <= 0 {
		keySizeBits = defaultKeySizeBits
	}

	m := &Manager{
		keys:        make(map[string]*loadedKey),
		repo:        repo,
		keySizeBits: keySizeBits,
	}

	records, err := repo.FindAll(ctx)
	if err != nil {
		return nil, errx.Wrap(err, "failed to load signing keys", errx.TypeInternal)
	}

	for _, rec := range records {
		lk, err := parseLoadedKey(rec)
		if err != nil {
			return nil, err
		}
		m.keys[rec.KID] = lk
		if rec.IsActive {
			m.activeKID = rec.KID
		}
	}

	if m.activeKID == "" {
		if err := m.Rotate(ctx); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func parseLoadedKey(rec RSAKeyPair) (*loadedKey, error) {
	block, _ := pem.Decode([]byte(rec.PrivatePEM))
	if block == nil {
		return nil, ErrTokenMalformed("invalid private key PEM for kid " + rec.KID)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, errx.Wrap(err, "failed to parse stored private key", errx.TypeCrypto)
	}
	return &loadedKey{record: rec, private: priv, public: &priv.PublicKey}, nil
}

// Sign encodes claims into a signed JWT under the currently active key,
// stamping the kid header so Verify can later pick the matching public key.
func (m *Manager) Sign(claims jwt.Claims) (string, error) {
	m.mu.RLock()
	kid := m.activeKID
	lk, ok := m.keys[kid]
	m.mu.RUnlock()

	if !ok {
		return "", ErrKeyNotFound(kid)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid

	signed, err := token.SignedString(lk.private)
	if err != nil {
		return "", errx.Wrap(err, "failed to sign token", errx.TypeCrypto)
	}
	return signed, nil
}

// Verify parses and validates tokenString, resolving the verification key
// by the kid in its header.
func (m *Manager) Verify(tokenString string, claims jwt.Claims) (*jwt.Token, error) {
	token, err := jwt.ParseWithClaims(tokenString, claims, m.keyfunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired()
		}
		return nil, ErrTokenMalformed(err.Error())
	}
	if !token.Valid {
		return nil, ErrTokenInvalid("signature or claims rejected")
	}
	return token, nil
}

func (m *Manager) keyfunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, ErrTokenInvalid("unexpected signing method")
	}
	kidRaw, ok := token.Header["kid"]
	if !ok {
		return nil, ErrTokenMalformed("missing kid header")
	}
	kid, ok := kidRaw.(string)
	if !ok {
		return nil, ErrTokenMalformed("non-string kid header")
	}

	m.mu.RLock()
	lk, ok := m.keys[kid]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrKeyNotFound(kid)
	}
	return lk.public, nil
}

// Rotate generates a fresh RSA keypair, persists it as active, and demotes
// whatever key was active before it. Old keys stay loaded so in-flight
// tokens signed under them still verify.
func (m *Manager) Rotate(ctx context.Context) error {
	priv, err := rsa.GenerateKey(rand.Reader, m.keySizeBits)
	if err != nil {
		return ErrKeyGeneration()
	}

	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PUBLIC KEY",
		Bytes: x509.MarshalPKCS1PublicKey(&priv.PublicKey),
	})

	rec := RSAKeyPair{
		KID:         uuid.NewString(),
		PrivatePEM:  string(privPEM),
		PublicPEM:   string(pubPEM),
		KeySizeBits: m.keySizeBits,
		IsActive:    true,
	}

	if err := m.repo.DeactivateAll(ctx); err != nil {
		return errx.Wrap(err, "failed to demote previous signing key", errx.TypeInternal)
	}
	if err := m.repo.Save(ctx, rec); err != nil {
		return errx.Wrap(err, "failed to persist new signing key", errx.TypeInternal)
	}

	m.mu.Lock()
	if prev, ok := m.keys[m.activeKID]; ok {
		prev.record.IsActive = false
	}
	m.keys[rec.KID] = &loadedKey{record: rec, private: priv, public: &priv.PublicKey}
	m.activeKID = rec.KID
	m.mu.Unlock()

	logx.Infof("jwks: rotated signing key, new kid=%s", rec.KID)
	return nil
}

// DeleteOld prunes persisted keys down to keepCount, oldest first, and drops
// the pruned keys from memory too.
func (m *Manager) DeleteOld(ctx context.Context, keepCount int) error {
	if err := m.repo.DeleteOlderThan(ctx, keepCount); err != nil {
		return errx.Wrap(err, "failed to prune old signing keys", errx.TypeInternal)
	}

	records, err := m.repo.FindAll(ctx)
	if err != nil {
		return errx.Wrap(err, "failed to reload signing keys after prune", errx.TypeInternal)
	}
	kept := make(map[string]bool, len(records))
	for _, rec := range records {
		kept[rec.KID] = true
	}

	m.mu.Lock()
	for kid := range m.keys {
		if !kept[kid] {
			delete(m.keys, kid)
		}
	}
	m.mu.Unlock()
	return nil
}

// JWKS is the RFC 7517 key set document.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK is a single RFC 7517 key entry for an RSA public key.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// PublishJWKS serializes every loaded public key as a JWKS document.
func (m *Manager) PublishJWKS() (JWKS, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := JWKS{Keys: make([]JWK, 0, len(m.keys))}
	for kid, lk := range m.keys {
		out.Keys = append(out.Keys, JWK{
			Kty: "RSA",
			Use: "sig",
			Kid: kid,
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(lk.public.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(bigEndianExponent(lk.public.E)),
		})
	}
	return out, nil
}

func bigEndianExponent(e int) []byte {
	// Standard RFC 7517 encoding of the public exponent (commonly 65537).
	b := []byte{byte(e >> 16), byte(e >> 8), byte(e)}
	i := 0
	for i < len(b)-1 && b[i] == 0 {
		i++
	}
	return b[i:]
}
