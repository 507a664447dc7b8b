package pipeline

import (
	"fmt"

	"github.com/aserkali/tilmash/pkg/provider/stt"
	"github.com/aserkali/tilmash/pkg/provider/tts"
)

// ProviderSet is the fixed set of provider instances a deployment runs with,
// looked up by name when a session's frozen snapshot is resolved.
type ProviderSet struct {
	stt map[string]stt.Provider
	tts map[string]tts.Provider
}

// NewProviderSet returns an empty set.
func NewProviderSet() *ProviderSet {
	return &ProviderSet{
		stt: make(map[string]stt.Provider),
		tts: make(map[string]tts.Provider),
	}
}

// AddSTT registers the provider under its own name, replacing any previous
// provider with that name.
func (ps *ProviderSet) AddSTT(p stt.Provider) {
	ps.stt[p.Name()] = p
}

// AddTTS registers the provider under its own name, replacing any previous
// provider with that name.
func (ps *ProviderSet) AddTTS(p tts.Provider) {
	ps.tts[p.Name()] = p
}

// STT resolves an STT provider by name.
func (ps *ProviderSet) STT(name string) (stt.Provider, error) {
	p, ok := ps.stt[name]
	if !ok {
		return nil, fmt.Errorf("unknown STT provider %q", name)
	}
	return p, nil
}

// TTS resolves a TTS provider by name.
func (ps *ProviderSet) TTS(name string) (tts.Provider, error) {
	p, ok := ps.tts[name]
	if !ok {
		return nil, fmt.Errorf("unknown TTS provider %q", name)
	}
	return p, nil
}

// STTNames returns the registered STT provider names.
func (ps *ProviderSet) STTNames() []string {
	names := make([]string, 0, len(ps.stt))
	for name := range ps.stt {
		names = append(names, name)
	}
	return names
}

// AllSTT returns all registered STT providers keyed by name. The returned
// map is the set's own storage and must not be mutated.
func (ps *ProviderSet) AllSTT() map[string]stt.Provider {
	return ps.stt
}
