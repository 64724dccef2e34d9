package chat

import "fmt"

// RecordingState is the voice-message composer state.
type RecordingState string

const (
	RecordingIdle   RecordingState = "idle"
	RecordingActive RecordingState = "recording"
)

// Composer holds the transient composition state of a conversation.
type Composer struct {
	Draft          string         `json:"draft"`
	Recording      RecordingState `json:"recording"`
	ElapsedSeconds int            `json:"elapsedSeconds"`
}

// IsRecording reports whether a voice message is being recorded.
func (c Composer) IsRecording() bool {
	return c.Recording == RecordingActive
}

// FormatElapsed renders seconds as m:ss.
func FormatElapsed(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// VoiceMessageBody is the synthesized body of a finished recording.
func VoiceMessageBody(seconds int) string {
	return fmt.Sprintf("🎤 Voice message (%s)", FormatElapsed(seconds))
}

// AttachmentBody is the synthesized body of an attached file.
func AttachmentBody(filename string) string {
	return "📸 Attached: " + filename
}

// GreetingBody is the persona's bootstrap message for a new conversation.
func GreetingBody(firstName string) string {
	return fmt.Sprintf("Hey %s! How's it going? 👋", firstName)
}
