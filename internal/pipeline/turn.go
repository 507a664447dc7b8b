package pipeline

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/aserkali/tilmash/internal/normalize"
	"github.com/aserkali/tilmash/internal/store"
	"github.com/aserkali/tilmash/pkg/provider/stt"
	"github.com/aserkali/tilmash/pkg/provider/tts"
)

// TurnResult is the outcome of processing one turn's audio.
type TurnResult struct {
	Turn *store.Turn

	// Corrections lists the dictionary replacements applied to the raw
	// transcript.
	Corrections []normalize.Correction

	// UnknownTerms lists tokens recorded as dictionary candidates.
	UnknownTerms []string

	// NeedsConfirmation is set when recognition confidence fell below
	// the threshold and the user should confirm the transcript.
	NeedsConfirmation bool
}

// DualResult extends TurnResult with a parallel recognition by the
// secondary provider. Secondary is nil when the secondary attempt failed;
// the turn is always built from the session's frozen provider.
type DualResult struct {
	*TurnResult
	SecondaryProvider string
	Secondary         *stt.Result
}

// ProcessAudio transcribes the audio with the session's frozen STT provider,
// normalizes the transcript against the approved dictionary, stores the
// audio blob and appends a new turn to the session.
func (s *Service) ProcessAudio(ctx context.Context, sessionID string, audio []byte) (*TurnResult, error) {
	if len(audio) == 0 {
		return nil, fmt.Errorf("process audio: %w", ErrEmptyAudio)
	}
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("process audio: %w", err)
	}
	if sess.Ended() {
		return nil, fmt.Errorf("process audio: session %s: %w", sessionID, ErrSessionEnded)
	}

	result, err := s.transcribe(ctx, sess.STTProviderUsed, sess.Language, audio)
	if err != nil {
		return nil, fmt.Errorf("process audio: %w", err)
	}

	normStart := s.now()
	normRes, err := s.norm.Normalize(ctx, sess.Language, result.Text, result.Confidence)
	if err != nil {
		return nil, fmt.Errorf("process audio: %w", err)
	}
	s.metrics.NormalizeDuration.Record(ctx, s.now().Sub(normStart).Seconds())
	s.recordLearningSignals(ctx, sess, normRes, result.Text)

	number, err := s.turns.MaxTurnNumber(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("process audio: %w", err)
	}
	number++

	audioKey := fmt.Sprintf("sessions/%s/turns/%d/input.wav", sessionID, number)
	if err := s.blobs.Upload(ctx, audioKey, audio); err != nil {
		return nil, fmt.Errorf("process audio: store input audio: %w", err)
	}

	words := make([]store.WordTiming, len(result.Words))
	for i, w := range result.Words {
		words[i] = store.WordTiming{Word: w.Word, Start: w.Start, End: w.End, Confidence: w.Confidence}
	}
	turn := &store.Turn{
		SessionID:            sessionID,
		TurnNumber:           number,
		CreatedAt:            s.now(),
		AudioInputKey:        audioKey,
		RawTranscript:        result.Text,
		NormalizedTranscript: normRes.Text,
		Confidence:           result.Confidence,
		STTLatency:           result.Latency,
		Words:                words,
		LowConfidence:        result.Confidence < s.lowConfThreshold,
	}
	if err := s.turns.AddTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("process audio: %w", err)
	}

	s.metrics.RecordTurn(ctx, sess.STTProviderUsed)
	s.log.Info("turn processed",
		"session_id", sessionID,
		"turn", number,
		"provider", sess.STTProviderUsed,
		"confidence", result.Confidence,
		"corrections", len(normRes.Applied))
	return &TurnResult{
		Turn:              turn,
		Corrections:       normRes.Applied,
		UnknownTerms:      normRes.Unknown,
		NeedsConfirmation: turn.LowConfidence,
	}, nil
}

// ProcessDual is ProcessAudio plus a parallel recognition by the configured
// secondary STT provider. Only test users may run it; a secondary failure is
// logged and leaves Secondary nil without failing the turn.
func (s *Service) ProcessDual(ctx context.Context, sessionID string, audio []byte) (*DualResult, error) {
	if s.secondarySTT == "" {
		res, err := s.ProcessAudio(ctx, sessionID, audio)
		if err != nil {
			return nil, err
		}
		return &DualResult{TurnResult: res}, nil
	}

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("process dual: %w", err)
	}
	user, err := s.users.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("process dual: %w", err)
	}
	if !user.IsTestUser {
		return nil, fmt.Errorf("process dual: user %s: %w", user.ID, ErrNotTestUser)
	}
	secondary, err := s.provs.STT(s.secondarySTT)
	if err != nil {
		return nil, fmt.Errorf("process dual: %w", err)
	}

	var (
		primary   *TurnResult
		secondRes *stt.Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		primary, err = s.ProcessAudio(gctx, sessionID, audio)
		return err
	})
	g.Go(func() error {
		res, err := secondary.Transcribe(gctx, audio, stt.TranscribeOptions{Language: string(sess.Language)})
		if err != nil {
			s.log.Warn("secondary recognition failed",
				"session_id", sessionID,
				"provider", s.secondarySTT,
				"error", err)
			return nil
		}
		secondRes = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &DualResult{
		TurnResult:        primary,
		SecondaryProvider: s.secondarySTT,
		Secondary:         secondRes,
	}, nil
}

// ConfirmTranscript records the user's verdict on the turn within the given
// session. A correction that differs from the raw transcript is stored on the
// turn and fed into the dictionary as a learning signal. A turn is confirmed
// at most once, and a turn belonging to a different session is not found.
func (s *Service) ConfirmTranscript(ctx context.Context, sessionID, turnID string, confirmed bool, correction string) (*store.Turn, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	turn, err := s.getSessionTurn(ctx, sessionID, turnID)
	if err != nil {
		return nil, fmt.Errorf("confirm transcript: %w", err)
	}
	if turn.UserConfirmed != nil {
		return nil, fmt.Errorf("confirm transcript: turn %s: %w", turnID, ErrAlreadyConfirmed)
	}
	sess, err := s.sessions.GetSession(ctx, turn.SessionID)
	if err != nil {
		return nil, fmt.Errorf("confirm transcript: %w", err)
	}
	if sess.Ended() {
		return nil, fmt.Errorf("confirm transcript: session %s: %w", sess.ID, ErrSessionEnded)
	}

	turn.UserConfirmed = &confirmed
	correction = strings.TrimSpace(correction)
	if correction != "" && !strings.EqualFold(correction, turn.RawTranscript) {
		turn.UserCorrection = &correction
		s.learnFromCorrection(ctx, sess, turn.RawTranscript, correction)
	}
	if err := s.turns.UpdateTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("confirm transcript: %w", err)
	}

	s.log.Info("transcript confirmed",
		"turn_id", turnID,
		"confirmed", confirmed,
		"corrected", turn.UserCorrection != nil)
	return turn, nil
}

// GenerateResponse synthesizes the assistant's reply with the session's
// frozen TTS provider, stores the audio and completes the turn. A turn
// belonging to a different session is not found.
func (s *Service) GenerateResponse(ctx context.Context, sessionID, turnID, text string) (*store.Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("generate response: %w", ErrEmptyText)
	}

	unlock := s.lockSession(sessionID)
	defer unlock()

	turn, err := s.getSessionTurn(ctx, sessionID, turnID)
	if err != nil {
		return nil, fmt.Errorf("generate response: %w", err)
	}
	sess, err := s.sessions.GetSession(ctx, turn.SessionID)
	if err != nil {
		return nil, fmt.Errorf("generate response: %w", err)
	}
	if sess.Ended() {
		return nil, fmt.Errorf("generate response: session %s: %w", sess.ID, ErrSessionEnded)
	}

	provider, err := s.provs.TTS(sess.TTSProviderUsed)
	if err != nil {
		return nil, fmt.Errorf("generate response: %w", err)
	}
	start := s.now()
	result, err := provider.Synthesize(ctx, text, tts.SynthesizeOptions{
		Language: string(sess.Language),
		Voice:    s.voice,
		Speed:    s.speed,
	})
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, sess.TTSProviderUsed, "tts", "error")
		s.metrics.RecordProviderError(ctx, sess.TTSProviderUsed, "tts")
		return nil, fmt.Errorf("generate response: synthesize: %w", err)
	}
	latency := result.Latency
	if latency == 0 {
		latency = s.now().Sub(start)
	}
	s.metrics.RecordProviderRequest(ctx, sess.TTSProviderUsed, "tts", "ok")
	s.metrics.TTSDuration.Record(ctx, latency.Seconds())

	format := result.Format
	if format == "" {
		format = "mp3"
	}
	outputKey := fmt.Sprintf("sessions/%s/turns/%d/output.%s", sess.ID, turn.TurnNumber, format)
	if err := s.blobs.Upload(ctx, outputKey, result.Audio); err != nil {
		return nil, fmt.Errorf("generate response: store output audio: %w", err)
	}

	turn.AssistantText = text
	turn.AudioOutputKey = outputKey
	turn.TTSLatency = latency
	if err := s.turns.UpdateTurn(ctx, turn); err != nil {
		return nil, fmt.Errorf("generate response: %w", err)
	}

	s.log.Info("response generated",
		"turn_id", turnID,
		"provider", sess.TTSProviderUsed,
		"audio_bytes", len(result.Audio))
	return turn, nil
}

// getSessionTurn loads a turn and verifies it belongs to the session. A turn
// addressed through the wrong session looks exactly like a missing one.
func (s *Service) getSessionTurn(ctx context.Context, sessionID, turnID string) (*store.Turn, error) {
	turn, err := s.turns.GetTurn(ctx, turnID)
	if err != nil {
		return nil, err
	}
	if turn.SessionID != sessionID {
		return nil, fmt.Errorf("%w: turn %q in session %q", store.ErrNotFound, turnID, sessionID)
	}
	return turn, nil
}

// transcribe runs one provider attempt with metrics.
func (s *Service) transcribe(ctx context.Context, providerName string, lang store.Language, audio []byte) (*stt.Result, error) {
	provider, err := s.provs.STT(providerName)
	if err != nil {
		return nil, err
	}
	start := s.now()
	result, err := provider.Transcribe(ctx, audio, stt.TranscribeOptions{Language: string(lang)})
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, providerName, "stt", "error")
		s.metrics.RecordProviderError(ctx, providerName, "stt")
		return nil, fmt.Errorf("transcribe with %s: %w", providerName, err)
	}
	if result.Latency == 0 {
		result.Latency = s.now().Sub(start)
	}
	s.metrics.RecordProviderRequest(ctx, providerName, "stt", "ok")
	s.metrics.STTDuration.Record(ctx, result.Latency.Seconds())
	return result, nil
}

// recordLearningSignals feeds normalization outcomes into metrics and the
// dictionary. Failures to record a candidate term are logged and skipped
// since the turn itself is unaffected.
func (s *Service) recordLearningSignals(ctx context.Context, sess *store.Session, res *normalize.Result, rawTranscript string) {
	for _, c := range res.Applied {
		s.metrics.RecordCorrection(ctx, string(sess.Language), string(c.Kind))
	}
	for _, term := range res.Unknown {
		s.metrics.RecordUnknownTerm(ctx, string(sess.Language))
		if _, err := s.dict.RecordOccurrence(ctx, sess.Language, term, sess.STTProviderUsed, rawTranscript); err != nil {
			s.log.Warn("record unknown term failed",
				"session_id", sess.ID,
				"term", term,
				"error", err)
		}
	}
}

// learnFromCorrection records the full raw transcript as a dictionary
// candidate with the correction as its suggested form and context example.
// When the two transcripts align word for word, each differing word pair is
// additionally recorded so single misheard words surface on their own.
func (s *Service) learnFromCorrection(ctx context.Context, sess *store.Session, raw, correction string) {
	if _, err := s.dict.RecordCorrection(ctx, sess.Language, raw, correction, sess.STTProviderUsed, correction); err != nil {
		s.log.Warn("record correction failed",
			"session_id", sess.ID,
			"heard", raw,
			"error", err)
	}
	rawWords := strings.Fields(raw)
	corrWords := strings.Fields(correction)
	if len(rawWords) != len(corrWords) {
		return
	}
	for i := range rawWords {
		if strings.EqualFold(rawWords[i], corrWords[i]) {
			continue
		}
		if _, err := s.dict.RecordCorrection(ctx, sess.Language, rawWords[i], corrWords[i], sess.STTProviderUsed, raw); err != nil {
			s.log.Warn("record correction failed",
				"session_id", sess.ID,
				"heard", rawWords[i],
				"error", err)
		}
	}
}
