package audio

// Chunk is a block of raw little-endian PCM16 mono audio together with the
// sample rate it was captured at. Chunks are transient: they are handed from a
// producer (microphone callback or network receive) to the session's audio
// pump and dropped once sent.
type Chunk struct {
	// Data holds the PCM16 samples, two bytes per sample.
	Data []byte

	// SampleRate in Hz (e.g., 16000 for microphone capture, 24000 for the
	// realtime model).
	SampleRate int
}

// Activity is the result of classifying a block of audio.
type Activity int

const (
	// Silence means the block's energy is at or below the speech threshold.
	Silence Activity = iota

	// Speech means the block's energy exceeds the speech threshold.
	Speech
)

// String returns the human-readable name of the activity.
func (a Activity) String() string {
	switch a {
	case Speech:
		return "speech"
	case Silence:
		return "silence"
	default:
		return "unknown"
	}
}
