// File: internal/orchestrator/orchestrator.go
// The orchestrator runs one task at a time through the fixed phase
// machine: Analyzing, Planning, Executing, Verifying, Reporting. Every
// exit path produces a TaskReport; failure is a graded report, never a
// silent no-op.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
	"github.com/dkastrov/taskpilot-cli/internal/browser/snapshot"
	"github.com/dkastrov/taskpilot-cli/internal/reasoner"
	"github.com/dkastrov/taskpilot-cli/internal/recovery"
)

// ErrTaskInProgress is returned synchronously when RunTask is called while
// another task holds the page. Tasks are never queued.
var ErrTaskInProgress = errors.New("a task is already running in this page context")

// Snapshotter builds a fresh inventory of the live page.
type Snapshotter interface {
	Capture(ctx context.Context) (*snapshot.Document, error)
}

// Planner is the reasoning-service boundary: the three exchanges a task
// makes with the external model.
type Planner interface {
	Analyze(ctx context.Context, task string, snap *schemas.PageSnapshot) (*schemas.TaskAnalysis, error)
	Plan(ctx context.Context, task string, analysis *schemas.TaskAnalysis, snap *schemas.PageSnapshot) (*schemas.ActionPlan, error)
	Verify(ctx context.Context, task string, history []schemas.HistoryEntry, snap *schemas.PageSnapshot) (*schemas.TaskVerification, error)
}

// StepExecutor carries out one validated step against the live page.
type StepExecutor interface {
	Execute(ctx context.Context, step *schemas.ActionStep, doc *snapshot.Document) schemas.ActionResult
}

// Recoverer maps a classified failure to a bounded recovery decision.
type Recoverer interface {
	Recover(ctx context.Context, step *schemas.ActionStep, alternatives []schemas.Locator, category schemas.ErrorCategory, doc *snapshot.Document) recovery.Outcome
	Reset()
}

// ChangeMonitor watches the page for drift while steps execute.
type ChangeMonitor interface {
	Start(ctx context.Context) error
	Stop() []schemas.HistoryEntry
	Drifted() bool
	AckDrift()
}

// Orchestrator owns the task lifecycle. Dependencies are injected as
// interfaces so the machine is testable without a browser.
type Orchestrator struct {
	logger      *zap.Logger
	snapshotter Snapshotter
	planner     Planner
	executor    StepExecutor
	recoverer   Recoverer
	monitor     ChangeMonitor

	isRunning atomic.Bool
}

// New wires an orchestrator. All dependencies are required.
func New(
	snapshotter Snapshotter,
	planner Planner,
	executor StepExecutor,
	recoverer Recoverer,
	monitor ChangeMonitor,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if snapshotter == nil || planner == nil || executor == nil || recoverer == nil || monitor == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	return &Orchestrator{
		logger:      logger.Named("orchestrator"),
		snapshotter: snapshotter,
		planner:     planner,
		executor:    executor,
		recoverer:   recoverer,
		monitor:     monitor,
	}, nil
}

// taskSession holds the per-task mutable state: the history and the phase.
// It lives exactly as long as one RunTask call.
type taskSession struct {
	id          string
	description string
	state       schemas.TaskRunState
	history     []schemas.HistoryEntry
	doc         *snapshot.Document
}

func (s *taskSession) setState(logger *zap.Logger, next schemas.TaskRunState) {
	if s.state.Terminal() {
		return
	}
	logger.Debug("Task state transition",
		zap.String("task_id", s.id),
		zap.String("from", string(s.state)), zap.String("to", string(next)))
	s.state = next
}

func (s *taskSession) recordAction(step *schemas.ActionStep, result *schemas.ActionResult) {
	s.history = append(s.history, schemas.HistoryEntry{
		Kind:      schemas.HistoryAction,
		Step:      step,
		Result:    result,
		Timestamp: time.Now(),
	})
}

// RunTask executes one natural-language task against the current page and
// returns its report. A concurrent call is rejected immediately with
// ErrTaskInProgress.
func (o *Orchestrator) RunTask(ctx context.Context, description string) (*schemas.TaskReport, error) {
	if !o.isRunning.CompareAndSwap(false, true) {
		return nil, ErrTaskInProgress
	}
	defer o.isRunning.Store(false)
	defer o.recoverer.Reset()

	session := &taskSession{
		id:          uuid.NewString(),
		description: description,
		state:       schemas.StateIdle,
	}
	o.logger.Info("Task started",
		zap.String("task_id", session.id), zap.String("task", description))

	report := o.run(ctx, session)
	o.logger.Info("Task finished",
		zap.String("task_id", session.id),
		zap.Bool("success", report.Success),
		zap.String("state", string(report.State)),
		zap.Int("actions", report.ActionsPerformed))
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, session *taskSession) *schemas.TaskReport {
	// -- Analyzing --
	session.setState(o.logger, schemas.StateAnalyzing)
	doc, err := o.snapshotter.Capture(ctx)
	if err != nil {
		return o.failReport(session, fmt.Errorf("capturing initial snapshot: %w", err))
	}
	session.doc = doc

	analysis, err := o.planner.Analyze(ctx, session.description, &doc.Page)
	if err != nil {
		return o.failReport(session, fmt.Errorf("analyzing task: %w", err))
	}

	// -- Planning --
	session.setState(o.logger, schemas.StatePlanning)
	plan, err := o.planner.Plan(ctx, session.description, analysis, &doc.Page)
	if err != nil {
		return o.failReport(session, fmt.Errorf("planning task: %w", err))
	}
	plan.TaskID = session.id
	o.logger.Info("Plan ready",
		zap.String("task_id", session.id),
		zap.Int("steps", len(plan.Steps)),
		zap.Float64("confidence", plan.Confidence))

	// -- Executing --
	session.setState(o.logger, schemas.StateExecuting)
	monitoring := o.monitor.Start(ctx) == nil
	if !monitoring {
		o.logger.Warn("Change monitor failed to start; continuing without drift detection")
	}
	execErr := o.executePlan(ctx, session, plan)
	if monitoring {
		session.history = append(session.history, o.monitor.Stop()...)
	}

	// Cancellation between steps still flushes a partial report.
	if errors.Is(execErr, context.Canceled) || errors.Is(execErr, context.DeadlineExceeded) {
		return o.failReport(session, execErr)
	}

	// -- Verifying --
	session.setState(o.logger, schemas.StateVerifying)
	verdict := o.verify(ctx, session)

	// -- Reporting --
	session.setState(o.logger, schemas.StateReporting)
	return o.report(session, plan, verdict, execErr)
}

// executePlan runs the steps strictly in order. A mandatory failure that
// recovery could not absorb aborts the remainder; optional failures are
// recorded and skipped.
func (o *Orchestrator) executePlan(ctx context.Context, session *taskSession, plan *schemas.ActionPlan) error {
	for i := range plan.Steps {
		step := &plan.Steps[i]

		// Cancellation is honored only between steps.
		if err := ctx.Err(); err != nil {
			return err
		}

		if o.monitor.Drifted() {
			o.refreshSnapshot(ctx, session, "drift")
		}

		result := o.executor.Execute(ctx, step, session.doc)
		session.recordAction(step, &result)

		if !result.Success {
			result = o.attemptRecovery(ctx, session, plan, step, result)
		}

		if !result.Success {
			if step.Optional {
				o.logger.Info("Optional step failed, continuing",
					zap.String("task_id", session.id), zap.String("step_id", step.ID),
					zap.String("reason", result.Message))
				continue
			}
			return fmt.Errorf("step %s failed: %s", step.ID, result.Message)
		}

		// Navigation invalidates every resolution; always re-snapshot.
		if step.Kind == schemas.ActionGoto {
			o.refreshSnapshot(ctx, session, "navigation")
		}
	}
	return nil
}

// attemptRecovery consults the recovery engine once and, when told to,
// retries the step exactly once. The retry's result is the step's final
// outcome either way.
func (o *Orchestrator) attemptRecovery(ctx context.Context, session *taskSession, plan *schemas.ActionPlan, step *schemas.ActionStep, failed schemas.ActionResult) schemas.ActionResult {
	outcome := o.recoverer.Recover(ctx, step, plan.AlternativesFor(step), failed.Category, session.doc)
	if outcome.Resnapshot {
		o.refreshSnapshot(ctx, session, "recovery")
	}
	if !outcome.Retry {
		return failed
	}

	retryStep := *step
	if outcome.Substitute != nil {
		retryStep.Target = *outcome.Substitute
		retryStep.Alternatives = nil
	}
	result := o.executor.Execute(ctx, &retryStep, session.doc)
	session.recordAction(&retryStep, &result)
	return result
}

// refreshSnapshot replaces the working document with a fresh capture. A
// failed capture keeps the stale document; the next resolution failure
// will surface it properly.
func (o *Orchestrator) refreshSnapshot(ctx context.Context, session *taskSession, reason string) {
	doc, err := o.snapshotter.Capture(ctx)
	if err != nil {
		o.logger.Warn("Snapshot refresh failed, keeping the previous inventory",
			zap.String("task_id", session.id), zap.String("reason", reason), zap.Error(err))
		return
	}
	session.doc = doc
	o.monitor.AckDrift()
	o.logger.Debug("Snapshot refreshed",
		zap.String("task_id", session.id), zap.String("reason", reason),
		zap.Uint64("epoch", doc.Page.Epoch))
}

// verify fetches the final page state and asks for a verdict. An upstream
// failure here degrades to the local-only summary instead of failing the
// task.
func (o *Orchestrator) verify(ctx context.Context, session *taskSession) *schemas.TaskVerification {
	if doc, err := o.snapshotter.Capture(ctx); err == nil {
		session.doc = doc
	}

	var page *schemas.PageSnapshot
	if session.doc != nil {
		page = &session.doc.Page
	}
	verdict, err := o.planner.Verify(ctx, session.description, session.history, page)
	if err != nil {
		o.logger.Warn("Verification exchange failed, degrading to a local summary",
			zap.String("task_id", session.id), zap.Error(err))
		return reasoner.DegradedVerification(session.history)
	}
	return verdict
}

func (o *Orchestrator) report(session *taskSession, plan *schemas.ActionPlan, verdict *schemas.TaskVerification, execErr error) *schemas.TaskReport {
	report := &schemas.TaskReport{
		TaskID:           session.id,
		Success:          verdict.Complete && execErr == nil,
		Report:           verdict.Summary,
		ActionsPerformed: countActions(session.history),
	}
	if session.doc != nil {
		report.PageSummary = fmt.Sprintf("%s (%s)", session.doc.Page.Title, session.doc.Page.URL)
	}
	if execErr != nil {
		report.Error = execErr.Error()
	}

	if report.Success {
		session.setState(o.logger, schemas.StateDone)
	} else {
		session.setState(o.logger, schemas.StateFailed)
	}
	report.State = session.state

	if plan.Summary != "" && report.Report == "" {
		report.Report = plan.Summary
	}
	return report
}

// failReport flushes the terminal report for failures before or outside
// the executing phase.
func (o *Orchestrator) failReport(session *taskSession, cause error) *schemas.TaskReport {
	o.logger.Error("Task failed",
		zap.String("task_id", session.id),
		zap.String("state", string(session.state)), zap.Error(cause))

	session.setState(o.logger, schemas.StateFailed)
	report := &schemas.TaskReport{
		TaskID:           session.id,
		Success:          false,
		Report:           "task aborted: " + cause.Error(),
		ActionsPerformed: countActions(session.history),
		Error:            cause.Error(),
		State:            session.state,
	}
	if session.doc != nil {
		report.PageSummary = fmt.Sprintf("%s (%s)", session.doc.Page.Title, session.doc.Page.URL)
	}
	return report
}

func countActions(history []schemas.HistoryEntry) int {
	n := 0
	for _, entry := range history {
		if entry.Kind == schemas.HistoryAction {
			n++
		}
	}
	return n
}
