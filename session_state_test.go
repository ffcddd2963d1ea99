package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionFor(t *testing.T) {
	tests := []struct {
		from SessionState
		ev   sessionEvent
		to   SessionState
		ok   bool
	}{
		{SessionIdle, evStartRequested, SessionStarting, true},
		{SessionFinished, evStartRequested, SessionStarting, true},
		{SessionStarting, evStartAcked, SessionRecording, true},
		{SessionStarting, evStopRequested, SessionStopping, true},
		{SessionRecording, evStopRequested, SessionStopping, true},
		{SessionStarting, evStreamFailed, SessionStopping, true},
		{SessionRecording, evStreamFailed, SessionStopping, true},
		{SessionStopping, evStreamsReported, SessionFinished, true},

		{SessionIdle, evStopRequested, 0, false},
		{SessionRecording, evStartRequested, 0, false},
		{SessionStopping, evStopRequested, 0, false},
		{SessionStopping, evStreamFailed, 0, false},
		{SessionRecording, evStreamsReported, 0, false},
		{SessionFinished, evStopRequested, 0, false},
		{SessionRecording, evStartAcked, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"/"+tt.ev.String(), func(t *testing.T) {
			tr, ok := transitionFor(tt.from, tt.ev)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.to, tr.To)
				assert.Equal(t, tt.from, tr.From)
			}
		})
	}
}

func TestSessionState_Active(t *testing.T) {
	active := map[SessionState]bool{
		SessionIdle:      false,
		SessionStarting:  true,
		SessionRecording: true,
		SessionStopping:  true,
		SessionFinished:  false,
	}
	for state, want := range active {
		assert.Equal(t, want, state.Active(), state.String())
	}
	assert.Equal(t, "unknown", SessionState(42).String())
	assert.Equal(t, "unknown", sessionEvent(42).String())
}
