// Package accessory implements the HomeKit attribute database: accessories
// contain services, services contain characteristics, and characteristics
// carry a format, properties, constraints and the application's read, write
// and subscription handlers.
//
// The database is immutable once built with NewDatabase. Instance IDs (iid)
// are unique within an accessory and accessory IDs (aid) are unique within
// the database.
//
// Characteristic values cross the handler boundary as native Go values:
//
//	FormatBool    bool
//	FormatUInt8   uint8
//	FormatUInt16  uint16
//	FormatUInt32  uint32
//	FormatUInt64  uint64
//	FormatInt     int32
//	FormatFloat   float32
//	FormatString  string
//	FormatData    []byte
//	FormatTLV8    []byte
//
// Each Format knows how to decode a JSON wire value into that Go type, with
// range checks against the characteristic's Constraints, and how to encode
// the Go value back to JSON.
package accessory
