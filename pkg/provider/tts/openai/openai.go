// Package openai implements tts.Provider using the OpenAI speech API.
//
// The speech API does not report clip durations, so Synthesize estimates one
// from the word count and speaking rate. The API caps input at 4096
// characters; longer texts fail with tts.ErrTextTooLong before any request is
// made.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/aserkali/tilmash/pkg/provider/tts"
)

// ProviderName is the identifier this adapter registers under.
const ProviderName = "openai"

const (
	// maxInputChars is the API's documented input limit.
	maxInputChars = 4096

	defaultVoice = "nova"

	// wordsPerMinute approximates conversational speech at speed 1.0 for the
	// duration estimate.
	wordsPerMinute = 150

	minSpeed = 0.25
	maxSpeed = 4.0
)

// Compile-time assertion that Provider satisfies the tts interface.
var _ tts.Provider = (*Provider)(nil)

// knownVoices are the voice identifiers the speech API accepts.
var knownVoices = map[string]bool{
	"alloy": true, "ash": true, "coral": true, "echo": true, "fable": true,
	"nova": true, "onyx": true, "sage": true, "shimmer": true,
}

// Provider implements tts.Provider using the OpenAI speech API.
type Provider struct {
	client oai.Client
	model  oai.SpeechModel
	format oai.AudioSpeechNewParamsResponseFormat
}

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	model   string
	format  string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel overrides the default speech model ("tts-1").
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithFormat sets the output audio format: "mp3" (default), "wav", or "opus".
func WithFormat(format string) Option {
	return func(c *config) {
		c.format = format
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI TTS Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}

	cfg := &config{
		model:  string(oai.SpeechModelTTS1),
		format: "mp3",
	}
	for _, o := range opts {
		o(cfg)
	}
	switch cfg.format {
	case "mp3", "wav", "opus":
	default:
		return nil, fmt.Errorf("openai: unsupported audio format %q", cfg.format)
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
		client: oai.NewClient(reqOpts...),
		model:  oai.SpeechModel(cfg.model),
		format: oai.AudioSpeechNewParamsResponseFormat(cfg.format),
	}, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return ProviderName }

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, opts tts.SynthesizeOptions) (*tts.Result, error) {
	if text == "" {
		return nil, tts.NewError(ProviderName, tts.ErrProvider, "empty input text", nil)
	}
	if len(text) > maxInputChars {
		msg := fmt.Sprintf("input is %d characters, limit is %d", len(text), maxInputChars)
		return nil, tts.NewError(ProviderName, tts.ErrTextTooLong, msg, nil)
	}

	voice := opts.Voice
	if !knownVoices[voice] {
		voice = defaultVoice
	}
	speed := clampSpeed(opts.Speed)

	params := oai.AudioSpeechNewParams{
		Model:          p.model,
		Input:          text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: p.format,
	}
	if speed != 1.0 {
		params.Speed = oai.Float(speed)
	}

	start := time.Now()
	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	took := time.Since(start)
	if err != nil {
		return nil, tts.NewError(ProviderName, tts.ErrProvider, "read audio body", err)
	}

	return &tts.Result{
		Audio:    audio,
		Format:   string(p.format),
		Duration: estimateDuration(text, speed),
		Latency:  took,
	}, nil
}

// clampSpeed maps zero to the default rate and clamps everything else to the
// API's supported range.
func clampSpeed(speed float64) float64 {
	if speed == 0 {
		return 1.0
	}
	if speed < minSpeed {
		return minSpeed
	}
	if speed > maxSpeed {
		return maxSpeed
	}
	return speed
}

// estimateDuration approximates playback length from the word count.
func estimateDuration(text string, speed float64) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	seconds := float64(words) * 60 / (wordsPerMinute * speed)
	return time.Duration(seconds * float64(time.Second))
}

// classify maps an SDK error to a *tts.Error with the right kind.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return tts.NewError(ProviderName, tts.ErrTimeout, "synthesis timed out", err)
	}

	var apierr *oai.Error
	if errors.As(err, &apierr) && apierr.StatusCode == http.StatusTooManyRequests {
		return tts.NewError(ProviderName, tts.ErrRateLimited, "rate limited by API", err)
	}
	return tts.NewError(ProviderName, tts.ErrProvider, "synthesis failed", err)
}
