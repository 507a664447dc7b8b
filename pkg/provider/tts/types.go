package tts

import "time"

// Result represents a completed synthesis from a TTS provider.
type Result struct {
	// Audio is the encoded audio clip.
	Audio []byte

	// Format is the audio container format: "mp3", "wav", or "ogg".
	Format string

	// Duration is the playback length of the clip. Providers that do not
	// report it estimate from the text length and speaking rate.
	Duration time.Duration

	// Latency is the wall-clock duration of the provider round trip.
	Latency time.Duration
}
