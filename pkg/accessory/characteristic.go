package accessory

import "context"

// Properties describe how controllers may access a characteristic.
type Properties struct {
	Readable                  bool
	Writable                  bool
	SupportsEventNotification bool
	Hidden                    bool
	ReadRequiresAdmin         bool
	WriteRequiresAdmin        bool
	RequiresTimedWrite        bool
	SupportsAuthorizationData bool

	// ControlPoint marks a TLV8 characteristic whose reads over HTTP are
	// always the empty string.
	ControlPoint bool

	// SupportsWriteResponse allows PUT /characteristics to request the value
	// after a write ("r": true).
	SupportsWriteResponse bool
}

// Range constrains numeric values to [Min, Max]. A positive Step further
// requires integer values to be a multiple of Step above Min.
type Range struct {
	Min  float64
	Max  float64
	Step float64
}

// ValidValuesRange is an inclusive range of allowed uint8 values.
type ValidValuesRange struct {
	Start uint8
	End   uint8
}

// Constraints restrict accepted values. Zero values mean "no constraint" or
// the format's default limit.
type Constraints struct {
	Range             *Range
	MaxLength         int
	MaxDataLength     int
	ValidValues       []uint8
	ValidValuesRanges []ValidValuesRange
}

// Unit is the unit of a numeric characteristic.
type Unit string

const (
	UnitNone       Unit = ""
	UnitCelsius    Unit = "celsius"
	UnitArcDegrees Unit = "arcdegrees"
	UnitPercentage Unit = "percentage"
	UnitLux        Unit = "lux"
	UnitSeconds    Unit = "seconds"
)

// ReadHandler returns the current value in the characteristic's native type.
type ReadHandler func(ctx context.Context, req ReadRequest) (any, error)

// WriteHandler applies a decoded value.
type WriteHandler func(ctx context.Context, req WriteRequest, value any) error

// SubscriptionHandler is notified when the first controller subscribes or
// the last one unsubscribes.
type SubscriptionHandler func(ctx context.Context, req SubscriptionRequest)

// Characteristic is one value of a service.
type Characteristic struct {
	IID         uint64
	Type        UUID
	Format      Format
	Description string
	Unit        Unit
	Properties  Properties
	Constraints Constraints

	Read        ReadHandler
	Write       WriteHandler
	Subscribe   SubscriptionHandler
	Unsubscribe SubscriptionHandler
}

// Permissions returns the wire permission strings in canonical order.
func (c *Characteristic) Permissions() []string {
	perms := make([]string, 0, 7)
	p := c.Properties
	if p.Readable {
		perms = append(perms, "pr")
	}
	if p.Writable {
		perms = append(perms, "pw")
	}
	if p.SupportsEventNotification {
		perms = append(perms, "ev")
	}
	if p.SupportsAuthorizationData {
		perms = append(perms, "aa")
	}
	if p.RequiresTimedWrite {
		perms = append(perms, "tw")
	}
	if p.SupportsWriteResponse {
		perms = append(perms, "wr")
	}
	if p.Hidden {
		perms = append(perms, "hd")
	}
	return perms
}

// ReadsAsNull reports whether HTTP reads return null without calling the
// read handler.
func (c *Characteristic) ReadsAsNull() bool {
	return IsMomentaryEvent(c.Type)
}

// ReadsAsEmpty reports whether HTTP reads return "" without calling the read
// handler.
func (c *Characteristic) ReadsAsEmpty() bool {
	return c.Properties.ControlPoint && c.Format == FormatTLV8
}
