package discovery

import (
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// TXT record keys of the _hap._tcp service.
const (
	TXTKeyConfigNumber    = "c#"
	TXTKeyFeatureFlags    = "ff"
	TXTKeyDeviceID        = "id"
	TXTKeyModel           = "md"
	TXTKeyProtocolVersion = "pv"
	TXTKeyStateNumber     = "s#"
	TXTKeyStatusFlags     = "sf"
	TXTKeyCategory        = "ci"
	TXTKeySetupHash       = "sh"
)

// TXT holds the TXT record of a _hap._tcp service.
type TXT struct {
	// ConfigNumber changes whenever the accessory database changes. Must be
	// non-zero.
	ConfigNumber uint32

	// Features advertises authentication support.
	Features FeatureFlags

	// DeviceID is the pairing identifier, formatted "XX:XX:XX:XX:XX:XX".
	DeviceID string

	// Model is the model name.
	Model string

	// StateNumber changes when the accessory wants controllers to reconnect.
	// Wraps from 65535 to 1.
	StateNumber uint16

	// Status flags.
	Status StatusFlags

	// Category of the primary accessory.
	Category Category

	// SetupHash is the optional setup hash (see SetupHash).
	SetupHash string
}

// Encode converts the record to DNS-SD format strings.
func (t *TXT) Encode() []string {
	txt := []string{
		fmt.Sprintf("%s=%d", TXTKeyConfigNumber, t.ConfigNumber),
		fmt.Sprintf("%s=%d", TXTKeyFeatureFlags, t.Features),
		fmt.Sprintf("%s=%s", TXTKeyDeviceID, t.DeviceID),
		fmt.Sprintf("%s=%s", TXTKeyModel, t.Model),
		fmt.Sprintf("%s=%s", TXTKeyProtocolVersion, ProtocolVersion),
		fmt.Sprintf("%s=%d", TXTKeyStateNumber, t.StateNumber),
		fmt.Sprintf("%s=%d", TXTKeyStatusFlags, t.Status),
		fmt.Sprintf("%s=%d", TXTKeyCategory, t.Category),
	}
	if t.SetupHash != "" {
		txt = append(txt, fmt.Sprintf("%s=%s", TXTKeySetupHash, t.SetupHash))
	}
	return txt
}

// Validate checks the record values.
func (t *TXT) Validate() error {
	if t.ConfigNumber == 0 {
		return ErrInvalidConfigNumber
	}
	if len(t.DeviceID) != 17 {
		return ErrInvalidDeviceID
	}
	if hw, err := net.ParseMAC(t.DeviceID); err != nil || len(hw) != 6 || strings.Count(t.DeviceID, ":") != 5 {
		return ErrInvalidDeviceID
	}
	return nil
}

// NextStateNumber returns the state number following s, skipping zero.
func NextStateNumber(s uint16) uint16 {
	s++
	if s == 0 {
		s = 1
	}
	return s
}

// SetupHash derives the "sh" value: the first four bytes of
// SHA-512(setupID || deviceID), Base64 encoded.
func SetupHash(setupID, deviceID string) string {
	sum := sha512.Sum512([]byte(setupID + deviceID))
	return base64.StdEncoding.EncodeToString(sum[:4])
}

// ParseTXT parses DNS-SD TXT records into a key-value map.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		key, value, _ := strings.Cut(record, "=")
		if key != "" {
			result[key] = value
		}
	}
	return result
}

// DecodeTXT parses the TXT record of a _hap._tcp service.
func DecodeTXT(records []string) (*TXT, error) {
	m := ParseTXT(records)
	t := &TXT{
		DeviceID:  m[TXTKeyDeviceID],
		Model:     m[TXTKeyModel],
		SetupHash: m[TXTKeySetupHash],
	}

	fields := []struct {
		key  string
		bits int
		set  func(uint64)
	}{
		{TXTKeyConfigNumber, 32, func(v uint64) { t.ConfigNumber = uint32(v) }},
		{TXTKeyFeatureFlags, 8, func(v uint64) { t.Features = FeatureFlags(v) }},
		{TXTKeyStateNumber, 16, func(v uint64) { t.StateNumber = uint16(v) }},
		{TXTKeyStatusFlags, 8, func(v uint64) { t.Status = StatusFlags(v) }},
		{TXTKeyCategory, 16, func(v uint64) { t.Category = Category(v) }},
	}
	for _, f := range fields {
		s, ok := m[f.key]
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(s, 10, f.bits)
		if err != nil {
			return nil, fmt.Errorf("%w: %s=%q", ErrInvalidTXTRecord, f.key, s)
		}
		f.set(v)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
