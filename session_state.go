package recorder

// SessionState is the coordinator's view of a recording session.
type SessionState int

const (
	SessionIdle      SessionState = iota
	SessionStarting               // start posted, waiting for both acknowledgements
	SessionRecording              // both workers acknowledged
	SessionStopping               // stop posted, waiting for both stream reports
	SessionFinished               // both streams reported a result or an error
)

func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionStarting:
		return "starting"
	case SessionRecording:
		return "recording"
	case SessionStopping:
		return "stopping"
	case SessionFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Active reports whether the session still owns the workers.
func (s SessionState) Active() bool {
	return s == SessionStarting || s == SessionRecording || s == SessionStopping
}

type sessionEvent int

const (
	evStartRequested sessionEvent = iota
	evStartAcked                  // second worker acknowledged
	evStopRequested               // caller stop or max duration reached
	evStreamFailed                // a worker reported an error
	evStreamsReported             // both streams delivered their outcome
)

func (e sessionEvent) String() string {
	switch e {
	case evStartRequested:
		return "start_requested"
	case evStartAcked:
		return "start_acked"
	case evStopRequested:
		return "stop_requested"
	case evStreamFailed:
		return "stream_failed"
	case evStreamsReported:
		return "streams_reported"
	default:
		return "unknown"
	}
}

// sessionTransition is a single allowed edge in the session state machine.
type sessionTransition struct {
	From  SessionState
	To    SessionState
	Event sessionEvent
}

var sessionTransitions = []sessionTransition{
	// Start path
	{From: SessionIdle, To: SessionStarting, Event: evStartRequested},
	{From: SessionFinished, To: SessionStarting, Event: evStartRequested},
	{From: SessionStarting, To: SessionRecording, Event: evStartAcked},

	// Stop intent
	{From: SessionStarting, To: SessionStopping, Event: evStopRequested},
	{From: SessionRecording, To: SessionStopping, Event: evStopRequested},

	// A failed stream stops the other one
	{From: SessionStarting, To: SessionStopping, Event: evStreamFailed},
	{From: SessionRecording, To: SessionStopping, Event: evStreamFailed},

	// Terminal
	{From: SessionStopping, To: SessionFinished, Event: evStreamsReported},
}

// transitionFor returns the allowed transition for a given state+event.
func transitionFor(from SessionState, ev sessionEvent) (sessionTransition, bool) {
	for _, tr := range sessionTransitions {
		if tr.From == from && tr.Event == ev {
			return tr, true
		}
	}
	return sessionTransition{}, false
}
