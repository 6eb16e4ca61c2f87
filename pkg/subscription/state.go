package subscription

// State is the lifecycle position of a subscription.
type State int32

const (
	StatePending State = iota
	StateAccepted
	StateStreaming
	StateClosing
	StateClosed
	StateRejected
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAccepted:
		return "accepted"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// NotifSuffix and UnsubSuffix name the companion methods of a subscription path.
const (
	NotifSuffix = "_notif"
	UnsubSuffix = "_unsub"
)
