// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a synthesis service (e.g., the OpenAI speech API)
// behind a uniform batch interface: one assistant text in, one encoded audio
// clip out. The session pipeline calls the provider frozen into the session
// at creation time.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// SynthesizeOptions carries the synthesis parameters for one Synthesize call.
type SynthesizeOptions struct {
	// Language is the text language code: "ru" or "kk". Providers use it for
	// voice selection hints; it never changes the input text.
	Language string

	// Voice is the provider-specific voice identifier. Empty selects the
	// provider's default voice.
	Voice string

	// Speed is the speaking-rate multiplier. Zero means the provider default
	// (1.0). Providers clamp out-of-range values to their supported range.
	Speed float64
}

// Provider is the abstraction over any batch TTS backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name returns the provider identifier used in configuration and session
	// snapshots (e.g., "openai").
	Name() string

	// Synthesize converts text into an encoded audio clip.
	//
	// On failure the returned error is a [*Error] whose kind is one of
	// [ErrTimeout], [ErrTextTooLong], [ErrRateLimited], or [ErrProvider].
	Synthesize(ctx context.Context, text string, opts SynthesizeOptions) (*Result, error)
}
