package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "vosk", "mock"},
	"tts": {"openai", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Storage
	if cfg.Storage.Retention < 0 {
		errs = append(errs, fmt.Errorf("storage.retention %v is negative", cfg.Storage.Retention))
	}
	if cfg.Storage.SweepInterval < 0 {
		errs = append(errs, fmt.Errorf("storage.sweep_interval %v is negative", cfg.Storage.SweepInterval))
	}

	// Providers: duplicate names within a kind would make sessions ambiguous.
	sttNames := validateProviderEntries("stt", cfg.Providers.STT, &errs)
	validateProviderEntries("tts", cfg.Providers.TTS, &errs)
	if len(cfg.Providers.STT) == 0 {
		slog.Warn("no STT providers configured; sessions cannot transcribe audio")
	}
	if len(cfg.Providers.TTS) == 0 {
		slog.Warn("no TTS providers configured; sessions cannot synthesize responses")
	}

	// Pipeline
	if t := cfg.Pipeline.LowConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("pipeline.low_confidence_threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Pipeline.Speed != 0 {
		if cfg.Pipeline.Speed < 0.25 || cfg.Pipeline.Speed > 4.0 {
			errs = append(errs, fmt.Errorf("pipeline.speed %.2f is out of range [0.25, 4.0]", cfg.Pipeline.Speed))
		}
	}
	if s := cfg.Pipeline.SecondarySTT; s != "" && !slices.Contains(sttNames, s) {
		errs = append(errs, fmt.Errorf("pipeline.secondary_stt %q is not a configured STT provider", s))
	}

	// Normalization
	if t := cfg.Normalization.FuzzyThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Errorf("normalization.fuzzy_threshold %.2f is out of range [0, 1]", t))
	}
	if cfg.Normalization.MaxDistance < 0 {
		errs = append(errs, fmt.Errorf("normalization.max_distance %d is negative", cfg.Normalization.MaxDistance))
	}
	if cfg.Normalization.MinUnknownLength < 0 {
		errs = append(errs, fmt.Errorf("normalization.min_unknown_length %d is negative", cfg.Normalization.MinUnknownLength))
	}

	// Comparison priority must reference configured STT providers.
	for _, name := range cfg.Comparison.PrimaryPriority {
		if !slices.Contains(sttNames, name) {
			slog.Warn("comparison.primary_priority names an unconfigured STT provider",
				"name", name,
				"configured", sttNames,
			)
		}
	}

	return errors.Join(errs...)
}

// validateProviderEntries checks one kind's entries for missing and
// duplicate names and returns the names seen.
func validateProviderEntries(kind string, entries []ProviderEntry, errs *[]error) []string {
	seen := make(map[string]int, len(entries))
	names := make([]string, 0, len(entries))
	for i, entry := range entries {
		prefix := fmt.Sprintf("providers.%s[%d]", kind, i)
		if entry.Name == "" {
			*errs = append(*errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if prev, ok := seen[entry.Name]; ok {
			*errs = append(*errs, fmt.Errorf("%s.name %q is a duplicate of providers.%s[%d]", prefix, entry.Name, kind, prev))
		}
		seen[entry.Name] = i
		names = append(names, entry.Name)
		validateProviderName(kind, entry.Name)
	}
	return names
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
