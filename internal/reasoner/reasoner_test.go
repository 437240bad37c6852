// File: internal/reasoner/reasoner_test.go
package reasoner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
)

// mockClient is a testify mock for the LLM boundary.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func testSnapshot() *schemas.PageSnapshot {
	return &schemas.PageSnapshot{
		URL:      "https://example.test/signup",
		Title:    "Sign Up",
		Category: schemas.SiteForm,
		Controls: []schemas.ElementDescriptor{
			{Selector: "//*[@id='submit']", Tag: "button", ID: "submit", Text: "Create account", Interactable: true},
		},
		Fields: []schemas.ElementDescriptor{
			{Selector: "//*[@id='email']", Tag: "input", ID: "email", Interactable: true},
		},
	}
}

func newTestReasoner(t *testing.T, client schemas.LLMClient) *Reasoner {
	t.Helper()
	return New(client, zaptest.NewLogger(t))
}

func TestAnalyze_ParsesWellFormedResponse(t *testing.T) {
	client := new(mockClient)
	client.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierFast && req.Options.ForceJSONFormat
	})).Return(`{"category": "form_fill", "confidence": 0.9, "required_actions": ["enter_text", "activate"]}`, nil)

	analysis, err := newTestReasoner(t, client).Analyze(context.Background(), "sign up with my email", testSnapshot())

	require.NoError(t, err)
	assert.Equal(t, "form_fill", analysis.Category)
	assert.InDelta(t, 0.9, analysis.Confidence, 0.001)
	client.AssertExpectations(t)
}

func TestAnalyze_DegradesOnProseResponse(t *testing.T) {
	client := new(mockClient)
	client.On("Generate", mock.Anything, mock.Anything).
		Return("I think this is probably a signup form, let me explain my reasoning at length...", nil)

	analysis, err := newTestReasoner(t, client).Analyze(context.Background(), "sign up", testSnapshot())

	require.NoError(t, err, "unparseable output must degrade, not fail")
	assert.Equal(t, "generic", analysis.Category)
	assert.Zero(t, analysis.Confidence)
}

func TestAnalyze_TransportErrorSurfaces(t *testing.T) {
	client := new(mockClient)
	transportErr := errors.New("api request failed with status 503")
	client.On("Generate", mock.Anything, mock.Anything).Return("", transportErr)

	_, err := newTestReasoner(t, client).Analyze(context.Background(), "sign up", testSnapshot())

	require.Error(t, err)
	assert.ErrorIs(t, err, transportErr)
}

func TestPlan_ValidStepsKeptInvalidDropped(t *testing.T) {
	client := new(mockClient)
	client.On("Generate", mock.Anything, mock.MatchedBy(func(req schemas.GenerationRequest) bool {
		return req.Tier == schemas.TierPowerful
	})).Return(`{
		"steps": [
			{"kind": "enter_text", "target": {"selector": "//*[@id='email']"}, "value": "a@b.test"},
			{"kind": "teleport", "value": "nowhere"},
			{"kind": "goto"},
			{"id": "finish", "kind": "activate", "target": {"text": "Create account"}}
		],
		"confidence": 0.8,
		"summary": "fill and submit"
	}`, nil)

	plan, err := newTestReasoner(t, client).Plan(context.Background(), "sign up",
		&schemas.TaskAnalysis{Category: "form_fill", Confidence: 0.9}, testSnapshot())

	require.NoError(t, err)
	require.Len(t, plan.Steps, 2, "unknown kind and goto-without-url must be dropped")
	assert.Equal(t, schemas.ActionEnterText, plan.Steps[0].Kind)
	assert.Equal(t, "step-1", plan.Steps[0].ID, "missing IDs are filled in")
	assert.Equal(t, "finish", plan.Steps[1].ID, "given IDs are kept")
}

func TestPlan_DegradesToEmptyPlan(t *testing.T) {
	client := new(mockClient)
	client.On("Generate", mock.Anything, mock.Anything).Return("sorry, I cannot help with that", nil)

	plan, err := newTestReasoner(t, client).Plan(context.Background(), "sign up",
		&schemas.TaskAnalysis{Category: "generic"}, testSnapshot())

	require.NoError(t, err)
	assert.Empty(t, plan.Steps)
	assert.NotEmpty(t, plan.Summary)
}

func TestPlan_FencedResponseParses(t *testing.T) {
	client := new(mockClient)
	client.On("Generate", mock.Anything, mock.Anything).Return("Here is the plan:\n```json\n"+
		`{"steps": [{"kind": "activate", "target": {"text": "upvote"}}], "confidence": 0.7}`+
		"\n```", nil)

	plan, err := newTestReasoner(t, client).Plan(context.Background(), "upvote the post",
		&schemas.TaskAnalysis{Category: "forum"}, testSnapshot())

	require.NoError(t, err)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, "upvote", plan.Steps[0].Target.Text)
}

func TestVerify_ParsesVerdict(t *testing.T) {
	client := new(mockClient)
	client.On("Generate", mock.Anything, mock.Anything).
		Return(`{"complete": true, "partial_success": false, "summary": "the account was created"}`, nil)

	history := []schemas.HistoryEntry{
		{Kind: schemas.HistoryAction,
			Step:   &schemas.ActionStep{ID: "step-1", Kind: schemas.ActionActivate, Target: schemas.Locator{Text: "submit"}},
			Result: &schemas.ActionResult{Success: true, Changed: true}},
	}
	verdict, err := newTestReasoner(t, client).Verify(context.Background(), "sign up", history, testSnapshot())

	require.NoError(t, err)
	assert.True(t, verdict.Complete)
	assert.Equal(t, "the account was created", verdict.Summary)
}

func TestVerify_DegradesToLocalSummary(t *testing.T) {
	client := new(mockClient)
	client.On("Generate", mock.Anything, mock.Anything).Return("not json at all", nil)

	history := []schemas.HistoryEntry{
		{Kind: schemas.HistoryAction,
			Step:   &schemas.ActionStep{ID: "step-1", Kind: schemas.ActionActivate, Target: schemas.Locator{Text: "submit"}},
			Result: &schemas.ActionResult{Success: true}},
		{Kind: schemas.HistoryAction,
			Step:   &schemas.ActionStep{ID: "step-2", Kind: schemas.ActionRead, Target: schemas.Locator{Text: "banner"}},
			Result: &schemas.ActionResult{Success: false}},
		{Kind: schemas.HistoryEvent, Event: "mutation_burst"},
	}
	verdict, err := newTestReasoner(t, client).Verify(context.Background(), "sign up", history, testSnapshot())

	require.NoError(t, err)
	assert.False(t, verdict.Complete)
	assert.True(t, verdict.PartialSuccess)
	assert.Contains(t, verdict.Summary, "1 of 2 actions")
}

func TestDegradedVerification_NoActions(t *testing.T) {
	verdict := DegradedVerification([]schemas.HistoryEntry{{Kind: schemas.HistoryEvent, Event: "page_error"}})
	assert.False(t, verdict.Complete)
	assert.False(t, verdict.PartialSuccess)
}
