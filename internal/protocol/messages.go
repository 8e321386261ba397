package protocol

import "time"

// AudioFrame represents PCM audio streamed from an edge capture device.
// Energy carries the device-side analyser reading on a 0-255 scale; when the
// device does not compute it the core derives it from the PCM payload.
type AudioFrame struct {
	AttemptID  string  `json:"attempt_id"`
	Sequence   int     `json:"sequence"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	PCM        []byte  `json:"pcm"`
	Energy     float64 `json:"energy,omitempty"`
	Final      bool    `json:"final"`
}

// RecordControl carries manual recording commands from the participant UI.
type RecordControl struct {
	AttemptID string    `json:"attempt_id"`
	Action    string    `json:"action"` // stop
	Timestamp time.Time `json:"timestamp"`
}

// DeviceAnnounce is published by an edge device when its microphone becomes
// available for an attempt.
type DeviceAnnounce struct {
	DeviceID   string    `json:"device_id"`
	AttemptID  string    `json:"attempt_id"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Timestamp  time.Time `json:"timestamp"`
}

// DeviceHeartbeat keeps an announced device registered.
type DeviceHeartbeat struct {
	DeviceID  string    `json:"device_id"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceError reports capture failures from the edge (permission refusals,
// missing hardware).
type DeviceError struct {
	DeviceID  string    `json:"device_id"`
	AttemptID string    `json:"attempt_id"`
	Code      string    `json:"code"` // permission_denied, device_unavailable
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PromptPlay instructs the edge device to play a question prompt.
type PromptPlay struct {
	AttemptID  string `json:"attempt_id"`
	QuestionID string `json:"question_id"`
	URI        string `json:"uri"`
	Text       string `json:"text,omitempty"`
}

// PromptStatus reports prompt playback completion or failure.
type PromptStatus struct {
	AttemptID  string    `json:"attempt_id"`
	QuestionID string    `json:"question_id"`
	Completed  bool      `json:"completed"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ConfirmRequest asks the participant to confirm a parsed answer.
type ConfirmRequest struct {
	AttemptID   string `json:"attempt_id"`
	QuestionID  string `json:"question_id"`
	Transcript  string `json:"transcript"`
	ParsedValue string `json:"parsed_value"`
}

// ConfirmResponse carries the participant's confirm/reject decision.
type ConfirmResponse struct {
	AttemptID  string `json:"attempt_id"`
	QuestionID string `json:"question_id"`
	Accepted   bool   `json:"accepted"`
}

// SessionEvent is the per-transition record published for observers and the
// participant UI.
type SessionEvent struct {
	AttemptID  string `json:"attempt_id"`
	QuestionID string `json:"question_id,omitempty"`
	// QuestionIndex is 1-based; QuestionTotal lets the UI render "3 of 12".
	QuestionIndex int       `json:"question_index,omitempty"`
	QuestionTotal int       `json:"question_total,omitempty"`
	Phase         string    `json:"phase"`
	Outcome       string    `json:"outcome,omitempty"` // retry, advance, fatal
	Reason        string    `json:"reason,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix    = "audio.frame"
	SubjectRecordControlPrefix = "record.control"
	SubjectDeviceAnnounce      = "ctrl.device.announce"
	SubjectDeviceHeartbeat     = "ctrl.device.heartbeat"
	SubjectDeviceError         = "ctrl.device.error"
	SubjectPromptPlayPrefix    = "prompt.play"
	SubjectPromptDonePrefix    = "prompt.done"
	SubjectConfirmReqPrefix    = "confirm.request"
	SubjectConfirmRespPrefix   = "confirm.response"
	SubjectSessionEventPrefix  = "session.event"
)

func AttemptSubject(prefix, attemptID string) string {
	return prefix + "." + attemptID
}
