package security

import (
	"crypto/cipher"
	"crypto/sha512"
	"encoding/binary"
	"io"
	"math"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Frame layout: 2-byte little-endian plaintext length (also the AAD),
// ciphertext, 16-byte Poly1305 tag.
const (
	// MaxFramePlaintext is the largest plaintext carried by one frame.
	MaxFramePlaintext = 1024

	// FrameHeaderSize is the size of the length prefix.
	FrameHeaderSize = 2

	// FrameTagSize is the size of the authentication tag.
	FrameTagSize = chacha20poly1305.Overhead

	// FrameOverhead is the number of bytes a frame adds to its plaintext.
	FrameOverhead = FrameHeaderSize + FrameTagSize

	// KeySize is the size of a control channel key.
	KeySize = chacha20poly1305.KeySize
)

var (
	controlSalt      = []byte("Control-Salt")
	controlReadInfo  = []byte("Control-Read-Encryption-Key")
	controlWriteInfo = []byte("Control-Write-Encryption-Key")
)

// Role selects which derived key encrypts and which decrypts.
type Role int

const (
	// RoleAccessory encrypts with the read key and decrypts with the write key.
	RoleAccessory Role = iota
	// RoleController encrypts with the write key and decrypts with the read key.
	RoleController
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleAccessory:
		return "Accessory"
	case RoleController:
		return "Controller"
	default:
		return "Unknown"
	}
}

// Cipher encrypts and decrypts the framed control channel of a secured
// session.
type Cipher interface {
	// Encrypt appends plaintext to dst as a sequence of frames.
	Encrypt(dst, plaintext []byte) ([]byte, error)

	// Decrypt authenticates and decrypts the frame at the start of src in
	// place. It returns the plaintext, which aliases src, and the number of
	// bytes the frame occupied. If src does not yet hold a complete frame it
	// returns n == 0 and no error.
	Decrypt(src []byte) (plaintext []byte, n int, err error)
}

// EncryptedLen returns the size of n plaintext bytes once framed.
func EncryptedLen(n int) int {
	frames := (n + MaxFramePlaintext - 1) / MaxFramePlaintext
	return n + frames*FrameOverhead
}

// FrameCipher is the ChaCha20-Poly1305 control channel cipher. Each direction
// has its own key and a 64-bit nonce counter starting at zero.
type FrameCipher struct {
	enc, dec           cipher.AEAD
	encCount, decCount uint64
}

// NewFrameCipher creates a cipher from explicit keys.
func NewFrameCipher(encryptKey, decryptKey []byte) (*FrameCipher, error) {
	enc, err := chacha20poly1305.New(encryptKey)
	if err != nil {
		return nil, err
	}
	dec, err := chacha20poly1305.New(decryptKey)
	if err != nil {
		return nil, err
	}
	return &FrameCipher{enc: enc, dec: dec}, nil
}

// NewControlCipher derives both control channel keys from the shared secret
// of a completed pair-verify and returns the cipher for the given side.
func NewControlCipher(sharedSecret []byte, role Role) (*FrameCipher, error) {
	readKey, err := DeriveKey(sharedSecret, controlSalt, controlReadInfo)
	if err != nil {
		return nil, err
	}
	writeKey, err := DeriveKey(sharedSecret, controlSalt, controlWriteInfo)
	if err != nil {
		return nil, err
	}
	if role == RoleController {
		return NewFrameCipher(writeKey, readKey)
	}
	return NewFrameCipher(readKey, writeKey)
}

// DeriveKey derives a KeySize key with HKDF-SHA512.
func DeriveKey(secret, salt, info []byte) ([]byte, error) {
	r := hkdf.New(sha512.New, secret, salt, info)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Encrypt implements Cipher.
func (c *FrameCipher) Encrypt(dst, plaintext []byte) ([]byte, error) {
	for len(plaintext) > 0 {
		n := min(len(plaintext), MaxFramePlaintext)
		nonce, err := nextNonce(&c.encCount)
		if err != nil {
			return dst, err
		}
		var hdr [FrameHeaderSize]byte
		binary.LittleEndian.PutUint16(hdr[:], uint16(n))
		dst = append(dst, hdr[:]...)
		dst = c.enc.Seal(dst, nonce[:], plaintext[:n], hdr[:])
		plaintext = plaintext[n:]
	}
	return dst, nil
}

// Decrypt implements Cipher.
func (c *FrameCipher) Decrypt(src []byte) ([]byte, int, error) {
	if len(src) < FrameHeaderSize {
		return nil, 0, nil
	}
	size := int(binary.LittleEndian.Uint16(src))
	if size > MaxFramePlaintext {
		return nil, 0, ErrFrameTooLarge
	}
	total := FrameHeaderSize + size + FrameTagSize
	if len(src) < total {
		return nil, 0, nil
	}
	nonce, err := nextNonce(&c.decCount)
	if err != nil {
		return nil, 0, err
	}
	body := src[FrameHeaderSize:total]
	plaintext, err := c.dec.Open(body[:0], nonce[:], body, src[:FrameHeaderSize])
	if err != nil {
		return nil, 0, ErrDecrypt
	}
	return plaintext, total, nil
}

func nextNonce(counter *uint64) ([chacha20poly1305.NonceSize]byte, error) {
	var nonce [chacha20poly1305.NonceSize]byte
	if *counter == math.MaxUint64 {
		return nonce, ErrNonceExhausted
	}
	binary.LittleEndian.PutUint64(nonce[4:], *counter)
	*counter++
	return nonce, nil
}
