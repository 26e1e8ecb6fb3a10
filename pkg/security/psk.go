package security

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"time"
)

// NonceSize is the size of each side's pair-verify nonce in a PSKProvider
// exchange.
const NonceSize = 32

var pskVerifyInfo = []byte("Pair-Verify-PSK")

// PSKProvider is a Provider for development and tests. Controllers share a
// pre-shared key with the accessory instead of running SRP and Curve25519:
//
//   - pair-setup: the body must equal SetupCode; the accessory becomes paired.
//   - pair-verify: the body is a NonceSize-byte controller nonce, the response
//     is a NonceSize-byte accessory nonce, and both sides derive the session
//     secret with PSKSharedSecret.
//   - pairings: an admin session may remove the pairing; the body is ignored.
type PSKProvider struct {
	Key       []byte
	SetupCode []byte
	Paired    bool

	// NonAdmin marks verified controllers as regular (non-admin) users.
	NonAdmin bool

	// KeyLifetime bounds how long session keys stay valid. Zero means forever.
	KeyLifetime time.Duration

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// NewSession implements Provider.
func (p *PSKProvider) NewSession() (Session, error) {
	return &pskSession{provider: p}, nil
}

// IsPaired implements Provider.
func (p *PSKProvider) IsPaired() bool { return p.Paired }

func (p *PSKProvider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// PSKSharedSecret derives the session secret of a PSKProvider pair-verify.
func PSKSharedSecret(key, controllerNonce, accessoryNonce []byte) ([]byte, error) {
	salt := make([]byte, 0, len(controllerNonce)+len(accessoryNonce))
	salt = append(salt, controllerNonce...)
	salt = append(salt, accessoryNonce...)
	return DeriveKey(key, salt, pskVerifyInfo)
}

type pskSession struct {
	provider    *PSKProvider
	cipher      *FrameCipher
	established time.Time
}

func (s *pskSession) PairSetup(_ context.Context, req []byte) ([]byte, error) {
	if s.provider.Paired {
		return nil, ErrInvalidRequest
	}
	if len(s.provider.SetupCode) == 0 || subtle.ConstantTimeCompare(req, s.provider.SetupCode) != 1 {
		return nil, ErrAuthentication
	}
	s.provider.Paired = true
	return []byte{}, nil
}

func (s *pskSession) PairVerify(_ context.Context, req []byte) ([]byte, error) {
	if !s.provider.Paired {
		return nil, ErrAuthentication
	}
	if s.cipher != nil || len(req) != NonceSize {
		return nil, ErrInvalidRequest
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	secret, err := PSKSharedSecret(s.provider.Key, req, nonce)
	if err != nil {
		return nil, err
	}
	c, err := NewControlCipher(secret, RoleAccessory)
	if err != nil {
		return nil, err
	}
	s.cipher = c
	s.established = s.provider.now()
	return nonce, nil
}

func (s *pskSession) Pairings(_ context.Context, _ []byte) ([]byte, error) {
	if !s.IsAdmin() {
		return nil, ErrAuthentication
	}
	s.provider.Paired = false
	return []byte{}, nil
}

func (s *pskSession) IsSecured() bool   { return s.cipher != nil }
func (s *pskSession) IsTransient() bool { return false }

func (s *pskSession) IsAdmin() bool {
	return s.cipher != nil && !s.provider.NonAdmin
}

func (s *pskSession) KeyExpired() bool {
	if s.cipher == nil || s.provider.KeyLifetime <= 0 {
		return false
	}
	return s.provider.now().Sub(s.established) >= s.provider.KeyLifetime
}

func (s *pskSession) Cipher() Cipher {
	if s.cipher == nil {
		return nil
	}
	return s.cipher
}

func (s *pskSession) Release() {
	s.cipher = nil
}
