package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlUsers = `
CREATE TABLE IF NOT EXISTS users (
    id             TEXT         PRIMARY KEY,
    name           TEXT         NOT NULL DEFAULT '',
    language       TEXT         NOT NULL,
    stt_provider   TEXT         NOT NULL,
    tts_provider   TEXT         NOT NULL,
    is_test_user   BOOLEAN      NOT NULL DEFAULT FALSE,
    created_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    last_active_at TIMESTAMPTZ
);
`

const ddlSessions = `
CREATE TABLE IF NOT EXISTS sessions (
    id                TEXT         PRIMARY KEY,
    user_id           TEXT         NOT NULL,
    language          TEXT         NOT NULL,
    started_at        TIMESTAMPTZ  NOT NULL DEFAULT now(),
    ended_at          TIMESTAMPTZ,
    stt_provider_used TEXT         NOT NULL,
    tts_provider_used TEXT         NOT NULL,
    device_info       JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_sessions_user_id
    ON sessions (user_id);

CREATE INDEX IF NOT EXISTS idx_sessions_started_at
    ON sessions (started_at);
`

const ddlTurns = `
CREATE TABLE IF NOT EXISTS turns (
    id                    TEXT         PRIMARY KEY,
    session_id            TEXT         NOT NULL,
    turn_number           INTEGER      NOT NULL,
    created_at            TIMESTAMPTZ  NOT NULL DEFAULT now(),
    audio_input_key       TEXT         NOT NULL DEFAULT '',
    raw_transcript        TEXT         NOT NULL DEFAULT '',
    normalized_transcript TEXT         NOT NULL DEFAULT '',
    confidence            DOUBLE PRECISION NOT NULL DEFAULT 0,
    stt_latency_ns        BIGINT       NOT NULL DEFAULT 0,
    words                 JSONB        NOT NULL DEFAULT '[]',
    low_confidence        BOOLEAN      NOT NULL DEFAULT FALSE,
    user_confirmed        BOOLEAN,
    user_correction       TEXT,
    assistant_text        TEXT         NOT NULL DEFAULT '',
    audio_output_key      TEXT         NOT NULL DEFAULT '',
    tts_latency_ns        BIGINT       NOT NULL DEFAULT 0,
    UNIQUE (session_id, turn_number)
);

CREATE INDEX IF NOT EXISTS idx_turns_session_id
    ON turns (session_id);

CREATE INDEX IF NOT EXISTS idx_turns_created_at
    ON turns (created_at);
`

const ddlTerms = `
CREATE TABLE IF NOT EXISTS dictionary_terms (
    id                  TEXT         PRIMARY KEY,
    language            TEXT         NOT NULL,
    heard_variant       TEXT         NOT NULL,
    correct_form        TEXT         NOT NULL DEFAULT '',
    context_examples    TEXT[]       NOT NULL DEFAULT '{}',
    occurrence_count    INTEGER      NOT NULL DEFAULT 0,
    status              TEXT         NOT NULL,
    provider_first_seen TEXT         NOT NULL DEFAULT '',
    approved_by         TEXT         NOT NULL DEFAULT '',
    created_at          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at          TIMESTAMPTZ  NOT NULL DEFAULT now(),
    CONSTRAINT dictionary_terms_language_variant UNIQUE (language, heard_variant)
);

CREATE INDEX IF NOT EXISTS idx_terms_language_status
    ON dictionary_terms (language, status);
`

const ddlComparisons = `
CREATE TABLE IF NOT EXISTS speech_records (
    id                 TEXT         PRIMARY KEY,
    user_id            TEXT         NOT NULL,
    audio_key          TEXT         NOT NULL DEFAULT '',
    recognized_text_ru TEXT         NOT NULL DEFAULT '',
    recognized_text_kk TEXT         NOT NULL DEFAULT '',
    created_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_speech_records_user_created
    ON speech_records (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS metric_records (
    id                 TEXT         PRIMARY KEY,
    speech_record_id   TEXT         NOT NULL REFERENCES speech_records (id) ON DELETE CASCADE,
    provider           TEXT         NOT NULL,
    confidence         DOUBLE PRECISION NOT NULL DEFAULT 0,
    processing_time_ns BIGINT       NOT NULL DEFAULT 0,
    created_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_metric_records_record
    ON metric_records (speech_record_id);

CREATE INDEX IF NOT EXISTS idx_metric_records_provider_created
    ON metric_records (provider, created_at);
`

const ddlEvaluations = `
CREATE TABLE IF NOT EXISTS evaluations (
    id           TEXT         PRIMARY KEY,
    turn_id      TEXT         NOT NULL,
    ground_truth TEXT         NOT NULL,
    labeled_by   TEXT         NOT NULL DEFAULT '',
    source       TEXT         NOT NULL DEFAULT '',
    wer          DOUBLE PRECISION NOT NULL DEFAULT 0,
    cer          DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_evaluations_turn_id
    ON evaluations (turn_id);

CREATE INDEX IF NOT EXISTS idx_evaluations_created_at
    ON evaluations (created_at);
`

// Migrate creates or ensures all required tables and indexes exist. It is
// idempotent and safe to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	statements := []string{
		ddlUsers,
		ddlSessions,
		ddlTurns,
		ddlTerms,
		ddlComparisons,
		ddlEvaluations,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
