// recovery/engine.go
package recovery

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
	"github.com/dkastrov/taskpilot-cli/internal/browser/snapshot"
)

// Outcome tells the orchestrator what to do about a failed step.
type Outcome struct {
	// Retry asks for exactly one re-execution of the step.
	Retry bool
	// Substitute, when set, replaces the step's target for the retry.
	Substitute *schemas.Locator
	// Resnapshot asks for a fresh document before the retry.
	Resnapshot bool
	Reason     string
}

// Resolver is the read-only lookup the engine uses to vet alternatives.
type Resolver interface {
	Resolve(ctx context.Context, loc schemas.Locator, doc *snapshot.Document) []schemas.ElementDescriptor
}

type handlerFn func(e *Engine, ctx context.Context, step *schemas.ActionStep, alternatives []schemas.Locator, doc *snapshot.Document) Outcome

// handlers is the closed category dispatch table. Every category in
// schemas.Categories() has exactly one row.
var handlers = map[schemas.ErrorCategory]handlerFn{
	schemas.ErrCategoryElementMissing: (*Engine).recoverElementMissing,
	schemas.ErrCategoryTimeout:        (*Engine).recoverTimeout,
	schemas.ErrCategoryPermission:     (*Engine).recoverUnrecoverable,
	schemas.ErrCategoryNetwork:        (*Engine).recoverUnrecoverable,
	schemas.ErrCategoryPageChange:     (*Engine).recoverPageChange,
	schemas.ErrCategoryUnknown:        (*Engine).recoverUnknown,
}

// Engine applies one bounded recovery attempt per category per step. It is
// task scoped: Reset clears the budget between tasks.
type Engine struct {
	logger   *zap.Logger
	resolver Resolver
	delay    time.Duration
	attempts map[string]map[schemas.ErrorCategory]int
}

// NewEngine creates a recovery engine. delay is the fixed wait used by the
// strategies that pause before retrying.
func NewEngine(resolver Resolver, delay time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		logger:   logger.Named("recovery"),
		resolver: resolver,
		delay:    delay,
		attempts: make(map[string]map[schemas.ErrorCategory]int),
	}
}

// Reset clears the per-step budgets for a new task.
func (e *Engine) Reset() {
	e.attempts = make(map[string]map[schemas.ErrorCategory]int)
}

// Recover decides on a recovery action for one failed step. At most one
// attempt is granted per category per step; past that the outcome is a
// plain refusal so total work stays bounded.
func (e *Engine) Recover(ctx context.Context, step *schemas.ActionStep, alternatives []schemas.Locator, category schemas.ErrorCategory, doc *snapshot.Document) Outcome {
	key := stepKey(step)
	if e.attempts[key] == nil {
		e.attempts[key] = make(map[schemas.ErrorCategory]int)
	}
	if e.attempts[key][category] >= 1 {
		return Outcome{Reason: "recovery budget for this category exhausted"}
	}
	e.attempts[key][category]++

	handler, ok := handlers[category]
	if !ok {
		handler = (*Engine).recoverUnknown
	}

	outcome := handler(e, ctx, step, alternatives, doc)
	e.logger.Info("Recovery decision",
		zap.String("step", key),
		zap.String("category", string(category)),
		zap.Bool("retry", outcome.Retry),
		zap.String("reason", outcome.Reason),
	)
	return outcome
}

// recoverElementMissing walks the alternative locators in order and falls
// back to one delayed re-resolution of the primary.
func (e *Engine) recoverElementMissing(ctx context.Context, step *schemas.ActionStep, alternatives []schemas.Locator, doc *snapshot.Document) Outcome {
	for _, alt := range alternatives {
		if alt.IsZero() {
			continue
		}
		if len(e.resolver.Resolve(ctx, alt, doc)) > 0 {
			loc := alt
			return Outcome{Retry: true, Substitute: &loc, Reason: "alternative locator resolved"}
		}
	}

	// The element may simply not be rendered yet.
	if err := e.wait(ctx); err != nil {
		return Outcome{Reason: "cancelled during recovery wait"}
	}
	if len(e.resolver.Resolve(ctx, step.EffectiveTarget(), doc)) > 0 {
		return Outcome{Retry: true, Reason: "primary locator resolved after delay"}
	}
	return Outcome{Reason: "no alternative or delayed resolution matched"}
}

// recoverTimeout waits once and reports the failure. The failed step has
// already spent its time budget; re-running it would double the cost.
func (e *Engine) recoverTimeout(ctx context.Context, _ *schemas.ActionStep, _ []schemas.Locator, _ *snapshot.Document) Outcome {
	if err := e.wait(ctx); err != nil {
		return Outcome{Reason: "cancelled during recovery wait"}
	}
	return Outcome{Reason: "timed out; waited once without retrying"}
}

// recoverUnrecoverable reports permission and network failures as final.
func (e *Engine) recoverUnrecoverable(_ context.Context, _ *schemas.ActionStep, _ []schemas.Locator, _ *snapshot.Document) Outcome {
	return Outcome{Reason: "failure category is not recoverable locally"}
}

// recoverPageChange asks for a fresh snapshot and one re-resolution.
func (e *Engine) recoverPageChange(_ context.Context, _ *schemas.ActionStep, _ []schemas.Locator, _ *snapshot.Document) Outcome {
	return Outcome{Retry: true, Resnapshot: true, Reason: "re-resolving against a fresh snapshot"}
}

// recoverUnknown does one generic wait and reports without retrying.
func (e *Engine) recoverUnknown(ctx context.Context, _ *schemas.ActionStep, _ []schemas.Locator, _ *snapshot.Document) Outcome {
	if err := e.wait(ctx); err != nil {
		return Outcome{Reason: "cancelled during recovery wait"}
	}
	return Outcome{Reason: "unclassified failure, no recovery strategy"}
}

func (e *Engine) wait(ctx context.Context) error {
	if e.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(e.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func stepKey(step *schemas.ActionStep) string {
	if step.ID != "" {
		return step.ID
	}
	return string(step.Kind) + "|" + step.EffectiveTarget().Key()
}
