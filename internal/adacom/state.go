package adacom

// State is the connection state of the engine.
type State int

const (
	// StateUnknown is the zero value. The engine leaves it on construction
	// and never returns to it.
	StateUnknown State = iota
	StateInitialised
	StateConnecting
	StateConnected
	StateDisconnected
	StateError
)

var stateNames = map[State]string{
	StateUnknown:      "UNKNOWN",
	StateInitialised:  "INITIALISED",
	StateConnecting:   "CONNECTING",
	StateConnected:    "CONNECTED",
	StateDisconnected: "DISCONNECTED",
	StateError:        "ERROR",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "INVALID_STATE"
}

// MarshalText renders the state by name so snapshots serialize readably.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	*s = ParseState(string(b))
	return nil
}

// ParseState returns the state with the given name, or StateUnknown.
func ParseState(name string) State {
	for s, n := range stateNames {
		if n == name {
			return s
		}
	}
	return StateUnknown
}

// connStep is the handshake phase while Connecting.
type connStep int

const (
	stepGetInfos connStep = iota
	stepGetStatus
)

func (s connStep) String() string {
	switch s {
	case stepGetInfos:
		return "GET_INFOS"
	case stepGetStatus:
		return "GET_STATUS"
	}
	return "UNKNOWN_STEP"
}
