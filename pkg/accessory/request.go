package accessory

// TransportType identifies the transport a request arrived on.
type TransportType uint8

const (
	TransportIP TransportType = iota + 1
	TransportBLE
)

// String returns the transport name.
func (t TransportType) String() string {
	switch t {
	case TransportIP:
		return "IP"
	case TransportBLE:
		return "BLE"
	default:
		return "Unknown"
	}
}

// Session describes the controller connection a request arrived on. Handlers
// must not retain it beyond the call.
type Session interface {
	// ID is unique among live sessions.
	ID() uint64
	IsAdmin() bool
	IsTransient() bool
}

// ReadRequest is passed to a ReadHandler.
type ReadRequest struct {
	Transport      TransportType
	Session        Session
	Characteristic *Characteristic
	Service        *Service
	Accessory      *Accessory
}

// WriteRequest is passed to a WriteHandler.
type WriteRequest struct {
	Transport      TransportType
	Session        Session
	Characteristic *Characteristic
	Service        *Service
	Accessory      *Accessory

	// Remote is true when the write was relayed by a remote controller.
	Remote bool

	// AuthorizationData is the decoded "authData" field, if any.
	AuthorizationData []byte
}

// SubscriptionRequest is passed to a SubscriptionHandler.
type SubscriptionRequest struct {
	Transport      TransportType
	Session        Session
	Characteristic *Characteristic
	Service        *Service
	Accessory      *Accessory
}
