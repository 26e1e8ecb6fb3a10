package accessory

import (
	"bytes"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// baseUUID is the HomeKit base UUID 00000000-0000-1000-8000-0026BB765291.
var baseUUID = uuid.MustParse("00000000-0000-1000-8000-0026BB765291")

// UUID identifies a service or characteristic type.
type UUID uuid.UUID

// HAPType returns the Apple-defined type with the given short ID.
func HAPType(short uint32) UUID {
	u := baseUUID
	binary.BigEndian.PutUint32(u[:4], short)
	return UUID(u)
}

// ParseUUID parses a full UUID or an Apple-defined short form such as "25".
func ParseUUID(s string) (UUID, error) {
	if len(s) <= 8 && !strings.Contains(s, "-") {
		v, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return UUID{}, err
		}
		return HAPType(uint32(v)), nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, err
	}
	return UUID(u), nil
}

// IsAppleDefined reports whether the UUID lies within the HomeKit base range.
func (u UUID) IsAppleDefined() bool {
	return bytes.Equal(u[4:], baseUUID[4:])
}

// String returns the short form for Apple-defined types, otherwise the
// uppercase canonical form.
func (u UUID) String() string {
	if u.IsAppleDefined() {
		return strings.ToUpper(strconv.FormatUint(uint64(binary.BigEndian.Uint32(u[:4])), 16))
	}
	return strings.ToUpper(uuid.UUID(u).String())
}
