// Package mock provides a test double for the stt.Provider interface.
//
// Pre-populate Result (or Err) with the value every Transcribe call should
// return, then inspect TranscribeCalls to verify what the caller sent.
//
// Example:
//
//	p := &mock.Provider{
//	    ProviderName: "mock-stt",
//	    Result:       &stt.Result{Text: "привет", Confidence: 0.9},
//	}
package mock

import (
	"context"
	"sync"

	"github.com/aserkali/tilmash/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Audio is a copy of the audio bytes passed to Transcribe.
	Audio []byte

	// Opts is the TranscribeOptions passed to Transcribe.
	Opts stt.TranscribeOptions
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// ProviderName is returned by Name. Defaults to "mock" when empty.
	ProviderName string

	// Result is returned by every Transcribe call when Err is nil.
	// If both Result and Err are nil, Transcribe returns an empty Result.
	Result *stt.Result

	// Err, if non-nil, is returned as the error from every Transcribe call.
	Err error

	// TranscribeFunc, if non-nil, overrides Result/Err entirely. Useful for
	// per-call behaviour (e.g., fail once then succeed).
	TranscribeFunc func(ctx context.Context, audio []byte, opts stt.TranscribeOptions) (*stt.Result, error)

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Name returns ProviderName, or "mock" when unset.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// Transcribe records the call and returns the scripted result.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.TranscribeOptions) (*stt.Result, error) {
	p.mu.Lock()
	cp := make([]byte, len(audio))
	copy(cp, audio)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Audio: cp, Opts: opts})
	fn := p.TranscribeFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, audio, opts)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	if p.Result != nil {
		r := *p.Result
		return &r, nil
	}
	return &stt.Result{Language: opts.Language}, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.TranscribeCalls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}
