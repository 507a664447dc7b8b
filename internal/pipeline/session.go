package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/aserkali/tilmash/internal/store"
)

// CreateSession starts a session for the user, freezing the user's current
// language and provider preferences into it. Later preference changes do not
// affect the running session.
func (s *Service) CreateSession(ctx context.Context, userID string, deviceInfo map[string]string) (*store.Session, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if _, err := s.provs.STT(user.STTProvider); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if _, err := s.provs.TTS(user.TTSProvider); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	sess := &store.Session{
		UserID:          user.ID,
		Language:        user.Language,
		StartedAt:       s.now(),
		STTProviderUsed: user.STTProvider,
		TTSProviderUsed: user.TTSProvider,
		DeviceInfo:      deviceInfo,
	}
	if err := s.sessions.AddSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	now := s.now()
	user.LastActiveAt = &now
	if err := s.users.UpdateUser(ctx, user); err != nil {
		// The session exists either way; losing the activity timestamp
		// is not worth failing the call.
		s.log.Warn("update user activity failed", "user_id", user.ID, "error", err)
	}

	s.metrics.ActiveSessions.Add(ctx, 1)
	s.log.Info("session created",
		"session_id", sess.ID,
		"user_id", user.ID,
		"language", sess.Language,
		"stt_provider", sess.STTProviderUsed,
		"tts_provider", sess.TTSProviderUsed)
	return sess, nil
}

// EndSession marks the session ended. Ending an already ended or unknown
// session is a no-op; the returned session is nil when it does not exist.
func (s *Service) EndSession(ctx context.Context, sessionID string) (*store.Session, error) {
	unlock := s.lockSession(sessionID)
	defer unlock()

	sess, err := s.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		s.dropSessionLock(sessionID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}
	if sess.Ended() {
		return sess, nil
	}

	now := s.now()
	sess.EndedAt = &now
	if err := s.sessions.UpdateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("end session: %w", err)
	}

	s.dropSessionLock(sessionID)
	s.metrics.ActiveSessions.Add(ctx, -1)
	s.log.Info("session ended", "session_id", sessionID)
	return sess, nil
}
