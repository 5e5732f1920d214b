package board

// SessionState is the lifecycle state of an Adapter
type SessionState int32

const (
	// StateUnprepared means no library is loaded
	StateUnprepared SessionState = iota
	// StatePrepared means the library is loaded, initialized and opened
	StatePrepared
	// StateStreaming means the acquisition goroutine was started and confirmed
	StateStreaming
	// StateReleased is terminal
	StateReleased
)

// String returns the state name
func (s SessionState) String() string {
	switch s {
	case StateUnprepared:
		return "unprepared"
	case StatePrepared:
		return "prepared"
	case StateStreaming:
		return "streaming"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}
