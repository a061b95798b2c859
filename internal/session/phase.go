package session

// Phase is a step of the session lifecycle. A session only moves forward through
// the phases, and Closed is final.
type Phase int32

const (
	Connecting Phase = iota
	Authenticating
	Subscribing
	Streaming
	Closed
)

func (p Phase) String() string {
	switch p {
	case Connecting:
		return "connecting"
	case Authenticating:
		return "authenticating"
	case Subscribing:
		return "subscribing"
	case Streaming:
		return "streaming"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}
