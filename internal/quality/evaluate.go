package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aserkali/tilmash/internal/store"
)

// ErrEmptyGroundTruth is returned when evaluating against an empty label.
var ErrEmptyGroundTruth = errors.New("quality: ground truth must not be empty")

// Evaluator scores turns against ground-truth labels and persists the
// resulting WER/CER.
type Evaluator struct {
	turns store.TurnStore
	evals store.EvaluationStore
	log   *slog.Logger
	now   func() time.Time
}

// NewEvaluator returns an Evaluator writing to the given stores.
func NewEvaluator(turns store.TurnStore, evals store.EvaluationStore, log *slog.Logger) *Evaluator {
	return &Evaluator{
		turns: turns,
		evals: evals,
		log:   log,
		now:   time.Now,
	}
}

// EvaluateTurn computes WER and CER of the turn's raw transcript against the
// ground truth and stores the evaluation. The raw transcript is scored, not
// the normalized one, so the numbers reflect the provider rather than the
// dictionary.
func (e *Evaluator) EvaluateTurn(ctx context.Context, turnID, groundTruth, labeledBy, source string) (*store.Evaluation, error) {
	groundTruth = strings.TrimSpace(groundTruth)
	if groundTruth == "" {
		return nil, ErrEmptyGroundTruth
	}
	turn, err := e.turns.GetTurn(ctx, turnID)
	if err != nil {
		return nil, fmt.Errorf("evaluate turn %q: %w", turnID, err)
	}

	eval := &store.Evaluation{
		TurnID:      turnID,
		GroundTruth: groundTruth,
		LabeledBy:   labeledBy,
		Source:      source,
		WER:         WER(groundTruth, turn.RawTranscript),
		CER:         CER(groundTruth, turn.RawTranscript),
		CreatedAt:   e.now(),
	}
	if err := e.evals.AddEvaluation(ctx, eval); err != nil {
		return nil, fmt.Errorf("evaluate turn %q: store evaluation: %w", turnID, err)
	}
	e.log.Info("turn evaluated",
		"turn_id", turnID,
		"wer", eval.WER,
		"cer", eval.CER,
		"source", source)
	return eval, nil
}
