// Package openai implements stt.Provider using the OpenAI audio
// transcription API (Whisper).
//
// The Whisper API does not report confidence scores, so Transcribe returns a
// fixed estimate unless overridden via WithConfidence. Vocabulary hints are
// passed through the prompt parameter, which biases recognition towards the
// listed terms.
package openai

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/aserkali/tilmash/pkg/provider/stt"
)

// ProviderName is the identifier this adapter registers under.
const ProviderName = "openai"

// defaultConfidence is reported when the API gives no confidence signal.
const defaultConfidence = 0.85

// Compile-time assertion that Provider satisfies the stt interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI transcription API.
type Provider struct {
	client     oai.Client
	model      oai.AudioModel
	confidence float64
}

// config holds optional configuration for the provider.
type config struct {
	baseURL    string
	model      string
	timeout    time.Duration
	confidence float64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel overrides the default transcription model ("whisper-1").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithConfidence overrides the fixed confidence estimate reported for
// successful transcriptions.
func WithConfidence(conf float64) Option {
	return func(c *config) {
		c.confidence = conf
	}
}

// New constructs a new OpenAI STT Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}

	cfg := &config{
		model:      string(oai.AudioModelWhisper1),
		confidence: defaultConfidence,
	}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{
		client:     oai.NewClient(reqOpts...),
		model:      oai.AudioModel(cfg.model),
		confidence: cfg.confidence,
	}, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return ProviderName }

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.TranscribeOptions) (*stt.Result, error) {
	if len(audio) == 0 {
		return nil, stt.NewError(ProviderName, stt.ErrInvalidAudio, "empty audio clip", nil)
	}

	params := oai.AudioTranscriptionNewParams{
		Model: p.model,
		File:  oai.File(bytes.NewReader(audio), "audio.wav", "audio/wav"),
	}
	if opts.Language != "" {
		params.Language = oai.String(opts.Language)
	}
	if len(opts.Hints) > 0 {
		params.Prompt = oai.String(strings.Join(opts.Hints, ", "))
	}

	start := time.Now()
	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	took := time.Since(start)
	if err != nil {
		return nil, classify(err)
	}

	return &stt.Result{
		Text:       resp.Text,
		Confidence: p.confidence,
		Language:   opts.Language,
		Latency:    took,
	}, nil
}

// classify maps an SDK error to an *stt.Error with the right kind.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return stt.NewError(ProviderName, stt.ErrTimeout, "transcription timed out", err)
	}

	var apierr *oai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusTooManyRequests:
			return stt.NewError(ProviderName, stt.ErrRateLimited, "rate limited by API", err)
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnsupportedMediaType:
			return stt.NewError(ProviderName, stt.ErrInvalidAudio, "audio rejected by API", err)
		}
	}
	return stt.NewError(ProviderName, stt.ErrProvider, "transcription failed", err)
}
