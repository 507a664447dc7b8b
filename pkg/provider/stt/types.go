package stt

import "time"

// Result represents a completed transcription from an STT provider.
type Result struct {
	// Text is the transcribed speech content.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Providers that do
	// not report confidence directly estimate it (see each implementation).
	Confidence float64

	// Words contains per-word timing and confidence when available.
	// May be nil for providers without word-level output.
	Words []Word

	// Language is the language the provider recognised ("ru", "kk").
	Language string

	// Latency is the wall-clock duration of the provider round trip.
	Latency time.Duration
}

// Word holds per-word metadata from STT providers that support it.
// Start and End are offsets from the beginning of the audio clip.
type Word struct {
	Word       string
	Start      time.Duration
	End        time.Duration
	Confidence float64
}
