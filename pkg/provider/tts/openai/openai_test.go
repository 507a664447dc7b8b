package openai

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aserkali/tilmash/pkg/provider/tts"
)

func TestInterfaceSatisfaction(t *testing.T) {
	var _ tts.Provider = (*Provider)(nil)
}

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty API key, got nil")
	}
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	if _, err := New("test-key", WithFormat("flac")); err == nil {
		t.Fatal("expected error for unsupported format, got nil")
	}
}

// TestSynthesize_Success checks the request shape and body handling against
// a mock speech endpoint.
func TestSynthesize_Success(t *testing.T) {
	clip := []byte("ID3fake-mp3-bytes")
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(clip)
	}))
	defer srv.Close()

	p, err := New("test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Synthesize(context.Background(), "привет, чем могу помочь?", tts.SynthesizeOptions{
		Language: "ru",
		Voice:    "nova",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !bytes.Equal(res.Audio, clip) {
		t.Errorf("Audio = %q, want %q", res.Audio, clip)
	}
	if res.Format != "mp3" {
		t.Errorf("Format = %q, want mp3", res.Format)
	}
	if res.Duration <= 0 {
		t.Errorf("Duration = %v, want > 0", res.Duration)
	}
	if gotPath != "/audio/speech" {
		t.Errorf("request path = %q", gotPath)
	}
}

func TestSynthesize_TextTooLong(t *testing.T) {
	p, err := New("test-key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	long := strings.Repeat("а", maxInputChars+1)
	_, err = p.Synthesize(context.Background(), long, tts.SynthesizeOptions{})
	if !errors.Is(err, tts.ErrTextTooLong) {
		t.Errorf("error = %v, want ErrTextTooLong", err)
	}
}

func TestSynthesize_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limit reached","type":"requests"}}`))
	}))
	defer srv.Close()

	p, err := New("test-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Synthesize(context.Background(), "привет", tts.SynthesizeOptions{})
	if !errors.Is(err, tts.ErrRateLimited) {
		t.Errorf("error = %v, want ErrRateLimited", err)
	}
	var perr *tts.Error
	if !errors.As(err, &perr) || perr.Provider != ProviderName {
		t.Errorf("error not attributed to %q: %v", ProviderName, err)
	}
}

func TestClampSpeed(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 1.0},
		{0.1, minSpeed},
		{1.5, 1.5},
		{10, maxSpeed},
	}
	for _, tc := range tests {
		if got := clampSpeed(tc.in); got != tc.want {
			t.Errorf("clampSpeed(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestEstimateDuration(t *testing.T) {
	// 150 words at 150 wpm is one minute.
	text := strings.TrimSpace(strings.Repeat("слово ", 150))
	if got := estimateDuration(text, 1.0); got != time.Minute {
		t.Errorf("estimateDuration = %v, want 1m", got)
	}
	// Doubling the rate halves the estimate.
	if got := estimateDuration(text, 2.0); got != 30*time.Second {
		t.Errorf("estimateDuration at 2x = %v, want 30s", got)
	}
	if got := estimateDuration("", 1.0); got != 0 {
		t.Errorf("estimateDuration(empty) = %v, want 0", got)
	}
}
