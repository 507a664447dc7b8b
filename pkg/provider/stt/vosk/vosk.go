// Package vosk implements stt.Provider against a vosk-server WebSocket
// endpoint.
//
// A vosk-server instance hosts a single acoustic model, so each language needs
// its own server. The adapter holds one URL per language (plus an optional
// default) and dials a fresh connection per Transcribe call: the audio is
// streamed in fixed-size binary chunks, the server answers each chunk with a
// JSON message, and an {"eof": 1} marker flushes the final result.
//
// Protocol reference: https://github.com/alphacep/vosk-server
package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coder/websocket"

	"github.com/aserkali/tilmash/pkg/provider/stt"
)

// ProviderName is the identifier this adapter registers under.
const ProviderName = "vosk"

const (
	defaultSampleRate = 16000

	// chunkSize is the binary frame size for streaming audio to the server.
	// 8000 bytes is 0.25s of 16kHz 16-bit mono audio.
	chunkSize = 8000
)

// Compile-time assertion that Provider satisfies the stt interface.
var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider for vosk-server.
type Provider struct {
	defaultURL   string
	languageURLs map[string]string
	sampleRate   int
	hintWords    bool
}

// Option is a functional option for Provider.
type Option func(*Provider)

// WithLanguageURL routes recognition for the given language code to a
// dedicated vosk-server instance.
func WithLanguageURL(language, url string) Option {
	return func(p *Provider) {
		p.languageURLs[language] = url
	}
}

// WithSampleRate sets the sample rate announced in the recognizer config.
// Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithWordHints enables passing TranscribeOptions.Hints as a phrase list in
// the recognizer config. Only servers loaded with a dynamic-graph model honor
// it; others reject the config, which is why it is off by default.
func WithWordHints() Option {
	return func(p *Provider) {
		p.hintWords = true
	}
}

// New constructs a new vosk Provider. url is the default server endpoint
// (e.g., "ws://localhost:2700"); per-language servers are added with
// WithLanguageURL.
func New(url string, opts ...Option) (*Provider, error) {
	p := &Provider{
		defaultURL:   url,
		languageURLs: make(map[string]string),
		sampleRate:   defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	if p.defaultURL == "" && len(p.languageURLs) == 0 {
		return nil, errors.New("vosk: no server URL configured")
	}
	return p, nil
}

// Name implements stt.Provider.
func (p *Provider) Name() string { return ProviderName }

// serverURL picks the endpoint for a language, falling back to the default.
func (p *Provider) serverURL(language string) (string, error) {
	if url, ok := p.languageURLs[language]; ok {
		return url, nil
	}
	if p.defaultURL != "" {
		return p.defaultURL, nil
	}
	return "", fmt.Errorf("no vosk server configured for language %q", language)
}

// recognizerConfig is the first message sent on every connection.
type recognizerConfig struct {
	Config struct {
		SampleRate int      `json:"sample_rate"`
		Words      bool     `json:"words"`
		PhraseList []string `json:"phrase_list,omitempty"`
	} `json:"config"`
}

// serverResult is a JSON message from vosk-server. Partial hypotheses carry
// only the partial field; finalized segments carry text and, when word-level
// output is enabled, the result list.
type serverResult struct {
	Partial string       `json:"partial"`
	Text    string       `json:"text"`
	Result  []serverWord `json:"result"`
}

type serverWord struct {
	Word  string  `json:"word"`
	Conf  float64 `json:"conf"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, opts stt.TranscribeOptions) (*stt.Result, error) {
	if len(audio) == 0 {
		return nil, stt.NewError(ProviderName, stt.ErrInvalidAudio, "empty audio clip", nil)
	}
	url, err := p.serverURL(opts.Language)
	if err != nil {
		return nil, stt.NewError(ProviderName, stt.ErrProvider, err.Error(), nil)
	}

	start := time.Now()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, classify("dial "+url, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	if err := p.sendConfig(ctx, conn, opts); err != nil {
		return nil, err
	}

	var segments []serverResult
	for off := 0; off < len(audio); off += chunkSize {
		end := min(off+chunkSize, len(audio))
		if err := conn.Write(ctx, websocket.MessageBinary, audio[off:end]); err != nil {
			return nil, classify("write audio", err)
		}
		res, err := readResult(ctx, conn)
		if err != nil {
			return nil, err
		}
		if res.Text != "" || len(res.Result) > 0 {
			segments = append(segments, *res)
		}
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"eof" : 1}`)); err != nil {
		return nil, classify("write eof", err)
	}
	final, err := readResult(ctx, conn)
	if err != nil {
		return nil, err
	}
	segments = append(segments, *final)

	return assemble(segments, opts.Language, time.Since(start)), nil
}

// sendConfig transmits the recognizer configuration as the first message.
func (p *Provider) sendConfig(ctx context.Context, conn *websocket.Conn, opts stt.TranscribeOptions) error {
	var cfg recognizerConfig
	cfg.Config.SampleRate = p.sampleRate
	cfg.Config.Words = true
	if p.hintWords && len(opts.Hints) > 0 {
		cfg.Config.PhraseList = opts.Hints
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return stt.NewError(ProviderName, stt.ErrProvider, "marshal config", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return classify("write config", err)
	}
	return nil
}

// readResult reads and decodes a single JSON message from the server.
func readResult(ctx context.Context, conn *websocket.Conn) (*serverResult, error) {
	_, data, err := conn.Read(ctx)
	if err != nil {
		return nil, classify("read result", err)
	}
	var res serverResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, stt.NewError(ProviderName, stt.ErrProvider, "malformed server message", err)
	}
	return &res, nil
}

// assemble joins the finalized segments into a single Result. Confidence is
// the mean word confidence when word-level output is present.
func assemble(segments []serverResult, language string, took time.Duration) *stt.Result {
	var (
		parts []string
		words []stt.Word
	)
	for _, seg := range segments {
		if seg.Text != "" {
			parts = append(parts, seg.Text)
		}
		for _, w := range seg.Result {
			words = append(words, stt.Word{
				Word:       w.Word,
				Start:      time.Duration(w.Start * float64(time.Second)),
				End:        time.Duration(w.End * float64(time.Second)),
				Confidence: w.Conf,
			})
		}
	}

	conf := 0.0
	if len(words) > 0 {
		for _, w := range words {
			conf += w.Confidence
		}
		conf /= float64(len(words))
	}

	return &stt.Result{
		Text:       strings.Join(parts, " "),
		Confidence: conf,
		Words:      words,
		Language:   language,
		Latency:    took,
	}
}

// classify maps a transport error to an *stt.Error with the right kind.
func classify(op string, err error) error {
	kind := stt.ErrProvider
	if errors.Is(err, context.DeadlineExceeded) {
		kind = stt.ErrTimeout
	}
	return stt.NewError(ProviderName, kind, op+" failed", err)
}
