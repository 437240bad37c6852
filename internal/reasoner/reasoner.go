// File: internal/reasoner/reasoner.go
// Package reasoner drives the three exchanges a task makes with the
// external reasoning service: analyze the goal, plan the steps, verify
// the outcome. Responses are untrusted; malformed output degrades to a
// conservative default instead of failing the task.
package reasoner

import (
	"context"
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
	"github.com/dkastrov/taskpilot-cli/internal/llmutil"
)

const exchangeTimeout = 45 * time.Second

// Reasoner owns the prompt construction and response parsing for one LLM
// client. It holds no per-task state.
type Reasoner struct {
	logger *zap.Logger
	client schemas.LLMClient
}

// New creates a reasoner over the given client.
func New(client schemas.LLMClient, logger *zap.Logger) *Reasoner {
	return &Reasoner{
		logger: logger.Named("reasoner"),
		client: client,
	}
}

// Analyze asks the fast tier to categorize the task against the current
// page. A malformed response degrades to a generic low-confidence
// analysis; only transport failures surface as errors.
func (r *Reasoner) Analyze(ctx context.Context, task string, snap *schemas.PageSnapshot) (*schemas.TaskAnalysis, error) {
	userPrompt, err := r.renderTaskPrompt(task, snap, `Categorize this task and list the page interactions it requires.
Respond with a single JSON object:
{"category": "<short label>", "confidence": <0.0-1.0>, "required_actions": ["..."], "risk_notes": ["..."]}`)
	if err != nil {
		return nil, err
	}

	response, err := r.generate(ctx, schemas.GenerationRequest{
		SystemPrompt: analysisSystemPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	})
	if err != nil {
		return nil, fmt.Errorf("analysis exchange failed: %w", err)
	}

	analysis, err := llmutil.ParseJSONResponse[schemas.TaskAnalysis](response)
	if err != nil {
		r.logger.Warn("Analysis response was not parseable, degrading",
			zap.Error(err))
		return &schemas.TaskAnalysis{Category: "generic", Confidence: 0}, nil
	}
	r.logger.Debug("Task analyzed",
		zap.String("category", analysis.Category),
		zap.Float64("confidence", analysis.Confidence))
	return analysis, nil
}

// Plan asks the powerful tier for an ordered action plan. Invalid steps
// are dropped with a warning; a malformed response degrades to an empty
// plan rather than an error.
func (r *Reasoner) Plan(ctx context.Context, task string, analysis *schemas.TaskAnalysis, snap *schemas.PageSnapshot) (*schemas.ActionPlan, error) {
	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return nil, fmt.Errorf("marshaling analysis: %w", err)
	}

	userPrompt, err := r.renderTaskPrompt(task, snap, fmt.Sprintf(`Prior analysis:
%s

Produce an ordered plan. Use only element selectors present in the inventory above, or describe targets by text/hint.
Respond with a single JSON object:
{"steps": [{"id": "step-1", "kind": "activate|choose|enter_text|scroll|pause|read|goto", "target": {"selector": "", "text": "", "hint": ""}, "alternatives": [], "value": "", "optional": false, "rationale": ""}], "fallbacks": {}, "confidence": <0.0-1.0>, "summary": "..."}`, string(analysisJSON)))
	if err != nil {
		return nil, err
	}

	response, err := r.generate(ctx, schemas.GenerationRequest{
		SystemPrompt: planningSystemPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	})
	if err != nil {
		return nil, fmt.Errorf("planning exchange failed: %w", err)
	}

	plan, err := llmutil.ParseJSONResponse[schemas.ActionPlan](response)
	if err != nil {
		r.logger.Warn("Plan response was not parseable, degrading to an empty plan",
			zap.Error(err))
		return &schemas.ActionPlan{Summary: "planner response was unusable"}, nil
	}

	return r.sanitizePlan(plan), nil
}

// Verify asks for a verdict over the executed history and the final page.
// A malformed response degrades to an incomplete verdict built from the
// local history.
func (r *Reasoner) Verify(ctx context.Context, task string, history []schemas.HistoryEntry, snap *schemas.PageSnapshot) (*schemas.TaskVerification, error) {
	historyJSON, err := json.Marshal(compactHistory(history))
	if err != nil {
		return nil, fmt.Errorf("marshaling history: %w", err)
	}

	userPrompt, err := r.renderTaskPrompt(task, snap, fmt.Sprintf(`Executed history:
%s

Judge whether the task completed on this page. Weigh failed steps and contextual events.
Respond with a single JSON object:
{"complete": <bool>, "partial_success": <bool>, "steps": [{"step_id": "", "effective": <bool>, "score": <0.0-1.0>, "note": ""}], "recommendations": ["..."], "summary": "..."}`, string(historyJSON)))
	if err != nil {
		return nil, err
	}

	response, err := r.generate(ctx, schemas.GenerationRequest{
		SystemPrompt: verificationSystemPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.1},
	})
	if err != nil {
		return nil, fmt.Errorf("verification exchange failed: %w", err)
	}

	verdict, err := llmutil.ParseJSONResponse[schemas.TaskVerification](response)
	if err != nil {
		r.logger.Warn("Verification response was not parseable, degrading",
			zap.Error(err))
		return DegradedVerification(history), nil
	}
	return verdict, nil
}

// DegradedVerification builds the local-only fallback verdict: no
// qualitative judgment, just what the history shows.
func DegradedVerification(history []schemas.HistoryEntry) *schemas.TaskVerification {
	actions, succeeded := 0, 0
	for _, entry := range history {
		if entry.Kind != schemas.HistoryAction {
			continue
		}
		actions++
		if entry.Result != nil && entry.Result.Success {
			succeeded++
		}
	}
	return &schemas.TaskVerification{
		Complete:       false,
		PartialSuccess: succeeded > 0,
		Summary: fmt.Sprintf("no qualitative verdict available; %d of %d actions reported success",
			succeeded, actions),
	}
}

func (r *Reasoner) generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	apiCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
	defer cancel()
	return r.client.Generate(apiCtx, req)
}

// renderTaskPrompt builds the shared user-prompt frame: the task, the
// compact snapshot JSON and the exchange-specific instruction block.
func (r *Reasoner) renderTaskPrompt(task string, snap *schemas.PageSnapshot, instructions string) (string, error) {
	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshaling page snapshot: %w", err)
	}

	return fmt.Sprintf(`Task: %s

Current page inventory (JSON):
%s

%s`, task, string(snapJSON), instructions), nil
}

// sanitizePlan validates every untrusted step, drops the invalid ones and
// fills in missing IDs so history and fallbacks can reference them.
func (r *Reasoner) sanitizePlan(plan *schemas.ActionPlan) *schemas.ActionPlan {
	kept := make([]schemas.ActionStep, 0, len(plan.Steps))
	for i := range plan.Steps {
		step := plan.Steps[i]
		if err := step.Validate(); err != nil {
			r.logger.Warn("Dropping invalid plan step",
				zap.Int("position", i),
				zap.String("kind", string(step.Kind)),
				zap.Error(err))
			continue
		}
		if step.ID == "" {
			step.ID = fmt.Sprintf("step-%d", len(kept)+1)
		}
		kept = append(kept, step)
	}

	if dropped := len(plan.Steps) - len(kept); dropped > 0 {
		r.logger.Info("Plan sanitized", zap.Int("kept", len(kept)), zap.Int("dropped", dropped))
	}
	plan.Steps = kept
	return plan
}

// compactHistory trims history entries to what the verifier needs.
func compactHistory(history []schemas.HistoryEntry) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(history))
	for _, entry := range history {
		item := map[string]interface{}{"kind": string(entry.Kind)}
		if entry.Step != nil {
			item["step_id"] = entry.Step.ID
			item["action"] = string(entry.Step.Kind)
			item["target"] = entry.Step.EffectiveTarget().Key()
		}
		if entry.Result != nil {
			item["success"] = entry.Result.Success
			item["changed"] = entry.Result.Changed
			item["message"] = entry.Result.Message
			if entry.Result.Extracted != "" {
				item["extracted"] = entry.Result.Extracted
			}
		}
		if entry.Event != "" {
			item["event"] = entry.Event
			item["detail"] = entry.Detail
		}
		out = append(out, item)
	}
	return out
}

const analysisSystemPrompt = `You are the planning brain of a local web-page task runner.
You receive a user task and a structured inventory of the current page's interactive elements.
You never invent elements that are not in the inventory.
Your response must be only the requested JSON object.`

const planningSystemPrompt = `You are the planning brain of a local web-page task runner.
You translate an analyzed task into an ordered sequence of primitive page actions.
Rules:
- Steps run strictly in order; there is no branching.
- Prefer selectors from the inventory; use text or hint targets when no selector fits.
- Use "choose" for radios, checkboxes and dropdowns, "enter_text" for writable fields.
- Mark a step optional only when the task can still succeed without it.
- Provide alternatives for targets likely to shift.
Your response must be only the requested JSON object.`

const verificationSystemPrompt = `You are the verification brain of a local web-page task runner.
You judge whether an executed action history achieved the user's task, given the final page inventory.
Be conservative: unverifiable claims are not completions.
Your response must be only the requested JSON object.`
