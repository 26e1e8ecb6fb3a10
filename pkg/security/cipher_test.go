package security

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"testing"
	"time"
)

func testPair(t *testing.T) (accessory, controller *FrameCipher) {
	t.Helper()
	secret := bytes.Repeat([]byte{0x42}, 32)
	a, err := NewControlCipher(secret, RoleAccessory)
	if err != nil {
		t.Fatalf("NewControlCipher(accessory) error = %v", err)
	}
	c, err := NewControlCipher(secret, RoleController)
	if err != nil {
		t.Fatalf("NewControlCipher(controller) error = %v", err)
	}
	return a, c
}

// decryptAll opens every complete frame in src.
func decryptAll(t *testing.T, c Cipher, src []byte) []byte {
	t.Helper()
	var out []byte
	for len(src) > 0 {
		pt, n, err := c.Decrypt(src)
		if err != nil {
			t.Fatalf("Decrypt() error = %v", err)
		}
		if n == 0 {
			t.Fatalf("Decrypt() incomplete with %d bytes left", len(src))
		}
		out = append(out, pt...)
		src = src[n:]
	}
	return out
}

func TestFrameCipher_RoundTrip(t *testing.T) {
	accessory, controller := testPair(t)

	for _, size := range []int{1, 100, MaxFramePlaintext, MaxFramePlaintext + 1, 3000} {
		msg := make([]byte, size)
		_, _ = rand.Read(msg)

		sealed, err := accessory.Encrypt(nil, msg)
		if err != nil {
			t.Fatalf("Encrypt() error = %v", err)
		}
		if len(sealed) != EncryptedLen(size) {
			t.Errorf("size %d: sealed %d bytes, want %d", size, len(sealed), EncryptedLen(size))
		}
		if got := decryptAll(t, controller, sealed); !bytes.Equal(got, msg) {
			t.Errorf("size %d: controller decrypted different bytes", size)
		}

		// The other direction uses the other key.
		sealed, _ = controller.Encrypt(nil, msg)
		if got := decryptAll(t, accessory, sealed); !bytes.Equal(got, msg) {
			t.Errorf("size %d: accessory decrypted different bytes", size)
		}
	}
}

func TestFrameCipher_FrameHeader(t *testing.T) {
	accessory, _ := testPair(t)
	sealed, _ := accessory.Encrypt(nil, make([]byte, 1500))
	if got := binary.LittleEndian.Uint16(sealed); got != MaxFramePlaintext {
		t.Errorf("first frame length = %d, want %d", got, MaxFramePlaintext)
	}
	second := sealed[FrameOverhead+MaxFramePlaintext:]
	if got := binary.LittleEndian.Uint16(second); got != 476 {
		t.Errorf("second frame length = %d, want 476", got)
	}
}

func TestFrameCipher_Decrypt(t *testing.T) {
	t.Run("partial frame", func(t *testing.T) {
		accessory, controller := testPair(t)
		sealed, _ := accessory.Encrypt(nil, []byte("hello"))
		for i := 0; i < len(sealed); i++ {
			if _, n, err := controller.Decrypt(sealed[:i]); n != 0 || err != nil {
				t.Fatalf("Decrypt(%d bytes) = %d, %v", i, n, err)
			}
		}
		pt, n, err := controller.Decrypt(sealed)
		if err != nil || n != len(sealed) || string(pt) != "hello" {
			t.Errorf("Decrypt() = %q, %d, %v", pt, n, err)
		}
	})

	t.Run("tampered tag", func(t *testing.T) {
		accessory, controller := testPair(t)
		sealed, _ := accessory.Encrypt(nil, []byte("hello"))
		sealed[len(sealed)-1] ^= 1
		if _, _, err := controller.Decrypt(sealed); err != ErrDecrypt {
			t.Errorf("Decrypt() error = %v, want ErrDecrypt", err)
		}
	})

	t.Run("replayed frame", func(t *testing.T) {
		accessory, controller := testPair(t)
		sealed, _ := accessory.Encrypt(nil, []byte("hello"))
		replay := append([]byte(nil), sealed...)
		decryptAll(t, controller, sealed)
		if _, _, err := controller.Decrypt(replay); err != ErrDecrypt {
			t.Errorf("Decrypt(replay) error = %v, want ErrDecrypt", err)
		}
	})

	t.Run("oversized length", func(t *testing.T) {
		_, controller := testPair(t)
		frame := make([]byte, 2)
		binary.LittleEndian.PutUint16(frame, MaxFramePlaintext+1)
		if _, _, err := controller.Decrypt(frame); err != ErrFrameTooLarge {
			t.Errorf("Decrypt() error = %v, want ErrFrameTooLarge", err)
		}
	})
}

func TestPSKProvider(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	p := &PSKProvider{
		Key:         []byte("secret"),
		SetupCode:   []byte("111-22-333"),
		KeyLifetime: time.Minute,
		Now:         func() time.Time { return now },
	}

	s, _ := p.NewSession()
	if _, err := s.PairVerify(ctx, make([]byte, NonceSize)); err != ErrAuthentication {
		t.Fatalf("PairVerify() before setup error = %v, want ErrAuthentication", err)
	}
	if _, err := s.PairSetup(ctx, []byte("000-00-000")); err != ErrAuthentication {
		t.Fatalf("PairSetup(wrong code) error = %v", err)
	}
	if _, err := s.PairSetup(ctx, []byte("111-22-333")); err != nil || !p.IsPaired() {
		t.Fatalf("PairSetup() error = %v, paired = %v", err, p.IsPaired())
	}

	controllerNonce := bytes.Repeat([]byte{7}, NonceSize)
	accessoryNonce, err := s.PairVerify(ctx, controllerNonce)
	if err != nil {
		t.Fatalf("PairVerify() error = %v", err)
	}
	if !s.IsSecured() || !s.IsAdmin() || s.IsTransient() {
		t.Errorf("secured=%v admin=%v transient=%v", s.IsSecured(), s.IsAdmin(), s.IsTransient())
	}

	secret, _ := PSKSharedSecret(p.Key, controllerNonce, accessoryNonce)
	controller, _ := NewControlCipher(secret, RoleController)
	sealed, _ := controller.Encrypt(nil, []byte("GET /accessories HTTP/1.1\r\n\r\n"))
	if got := decryptAll(t, s.Cipher(), sealed); string(got) != "GET /accessories HTTP/1.1\r\n\r\n" {
		t.Errorf("accessory decrypted %q", got)
	}

	if s.KeyExpired() {
		t.Error("KeyExpired() = true before lifetime")
	}
	now = now.Add(time.Minute)
	if !s.KeyExpired() {
		t.Error("KeyExpired() = false after lifetime")
	}

	s.Release()
	if s.IsSecured() || s.Cipher() != nil {
		t.Error("Release() kept key material")
	}
}
