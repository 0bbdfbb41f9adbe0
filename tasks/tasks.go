package tasks

import "encoding/json"

// ---
// QUEUE DEFINITIONS
// ---
const (
	// QueueScriptParse segments a script into storyboard scenes.
	QueueScriptParse = "q_script_parse"

	// QueueVoiceoverSynthesis generates audio for a voiceover record.
	QueueVoiceoverSynthesis = "q_voiceover_synthesis"
)

// ---
// TASK PAYLOADS
// ---
// Payloads carry durable IDs only, never live object references: a worker
// picking up a task must re-fetch current state from the database.

// ParseTaskPayload is the payload for QueueScriptParse.
type ParseTaskPayload struct {
	ScriptID uint `json:"script_id"`
	UserID   uint `json:"user_id"`
}

// VoiceoverTaskPayload is the payload for QueueVoiceoverSynthesis.
// Generation pins the task to the request that enqueued it; a record that
// was deleted or re-requested since then has a different generation and the
// task becomes a no-op.
type VoiceoverTaskPayload struct {
	VoiceoverID uint `json:"voiceover_id"`
	Generation  uint `json:"generation"`
}

// Marshal creates a JSON payload for a task.
func Marshal(payload interface{}) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
