package state

// ClientState is the client's total order of progress (spec §3). Stopping
// is reachable from any non-terminal state; Terminated is absorbing.
type ClientState int

const (
	Idle ClientState = iota
	Connecting
	Connected
	LoggingIn
	Tunneling
	Stopping
	Terminated
)

// String implements fmt.Stringer for log lines and telemetry payloads.
func (s ClientState) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case LoggingIn:
		return "LoggingIn"
	case Tunneling:
		return "Tunneling"
	case Stopping:
		return "Stopping"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// MarshalText implements encoding.TextMarshaler so ClientState serializes
// as its name in telemetry JSON.
func (s ClientState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
