// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., the OpenAI Whisper API
// or a local vosk-server) behind a uniform batch interface: one recorded audio
// clip in, one [Result] out. The session pipeline calls a single provider
// chosen per user; the comparison harness fans the same clip out to every
// configured provider.
//
// Implementations must be safe for concurrent use — the comparison harness
// calls Transcribe from multiple goroutines.
package stt

import "context"

// TranscribeOptions carries the recognition parameters for one Transcribe call.
type TranscribeOptions struct {
	// Language is the recognition language code: "ru" (Russian) or
	// "kk" (Kazakh). An empty string lets the provider auto-detect, if supported.
	Language string

	// Hints is an optional list of words or phrases expected in the audio,
	// used to bias recognition towards uncommon vocabulary. Providers that do
	// not support hinting ignore it.
	Hints []string
}

// Provider is the abstraction over any batch STT backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the provider identifier used in configuration, session
	// snapshots, and metric records (e.g., "openai", "vosk").
	Name() string

	// Transcribe converts a complete recorded audio clip to text. The audio
	// byte slice is an encoded file (WAV, MP3, or another format the provider
	// accepts), not raw PCM frames.
	//
	// On failure the returned error is a [*Error] whose kind is one of
	// [ErrTimeout], [ErrInvalidAudio], [ErrRateLimited], or [ErrProvider],
	// so callers can branch with errors.Is.
	Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (*Result, error)
}
