package ingest

// State is the connection lifecycle position. Terminal states are never
// left once entered.
type State int32

const (
	StateConnected State = iota
	StateReading
	StateParsing
	StateDispatching

	StateClosedByPeer
	StateClosedIdleTimeout
	StateClosedSafetyValve
	StateClosedError
	StateClosedShutdown
)

var stateNames = [...]string{
	StateConnected:         "connected",
	StateReading:           "reading",
	StateParsing:           "parsing",
	StateDispatching:       "dispatching",
	StateClosedByPeer:      "closed_by_peer",
	StateClosedIdleTimeout: "closed_idle_timeout",
	StateClosedSafetyValve: "closed_safety_valve",
	StateClosedError:       "closed_error",
	StateClosedShutdown:    "closed_shutdown",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) Terminal() bool {
	return s >= StateClosedByPeer
}
