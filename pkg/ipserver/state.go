package ipserver

// State is the lifecycle state of the accessory server.
type State int

const (
	// StateIdle means the server is not accepting connections.
	StateIdle State = iota

	// StateRunning means the server accepts and serves controllers.
	StateRunning

	// StateStopping means the server drains its sessions before moving to
	// the next state.
	StateStopping
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// nextState is where a Stopping server goes once drained.
type nextState int

const (
	nextUndefined nextState = iota
	nextRunning
	nextIdle
)

func (n nextState) String() string {
	switch n {
	case nextRunning:
		return "Running"
	case nextIdle:
		return "Idle"
	default:
		return "Undefined"
	}
}

// sessionState is the I/O state of one session.
type sessionState uint8

const (
	sessionIdle sessionState = iota
	sessionReading
	sessionWriting
)

func (s sessionState) String() string {
	switch s {
	case sessionReading:
		return "reading"
	case sessionWriting:
		return "writing"
	default:
		return "idle"
	}
}
