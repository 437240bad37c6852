package schemas

import (
	"fmt"
	"strings"
	"time"
)

// -- Plan Schemas --

// ActionKind enumerates the primitive actions the executor can perform.
type ActionKind string

const (
	ActionActivate  ActionKind = "activate"   // click-equivalent
	ActionChoose    ActionKind = "choose"     // radio/checkbox/dropdown
	ActionEnterText ActionKind = "enter_text" // write into a text-capable field
	ActionScroll    ActionKind = "scroll"     // scroll element or window
	ActionPause     ActionKind = "pause"      // fixed delay or poll condition
	ActionRead      ActionKind = "read"       // extract text/markup/value/attribute
	ActionGoto      ActionKind = "goto"       // change page location (terminal for caching)
)

// knownKinds is the closed set used for plan validation.
var knownKinds = map[ActionKind]struct{}{
	ActionActivate:  {},
	ActionChoose:    {},
	ActionEnterText: {},
	ActionScroll:    {},
	ActionPause:     {},
	ActionRead:      {},
	ActionGoto:      {},
}

// Locator identifies an element by structural selector, free-text
// description, or semantic hint. Which strategy resolves it is the
// resolver's business; a step may carry any combination.
type Locator struct {
	Selector string `json:"selector,omitempty"`
	Text     string `json:"text,omitempty"`
	Hint     string `json:"hint,omitempty"`
}

// IsZero reports whether the locator carries no information at all.
func (l Locator) IsZero() bool {
	return l.Selector == "" && l.Text == "" && l.Hint == ""
}

// Key returns the canonical form used to index the plan's fallback map.
func (l Locator) Key() string {
	if l.Selector != "" {
		return l.Selector
	}
	if l.Text != "" {
		return "text:" + strings.ToLower(l.Text)
	}
	return "hint:" + strings.ToLower(l.Hint)
}

func (l Locator) String() string { return l.Key() }

// WaitUntil enumerates poll conditions for pause steps.
type WaitUntil string

const (
	WaitAppear    WaitUntil = "appear"
	WaitDisappear WaitUntil = "disappear"
)

// WaitCondition is a bounded poll-until condition on a locator.
type WaitCondition struct {
	Target    Locator   `json:"target"`
	Until     WaitUntil `json:"until"`
	TimeoutMs int       `json:"timeout_ms,omitempty"`
}

// ReadWhat selects which facet of an element a read step extracts.
type ReadWhat string

const (
	ReadText      ReadWhat = "text"
	ReadMarkup    ReadWhat = "markup"
	ReadValue     ReadWhat = "value"
	ReadAttribute ReadWhat = "attribute"
)

// ActionStep is one planned action. Steps are produced only by the external
// planner and are treated as untrusted input: Validate must pass before a
// step reaches the executor.
type ActionStep struct {
	ID           string     `json:"id,omitempty"`
	Kind         ActionKind `json:"kind"`
	Target       Locator    `json:"target,omitempty"`
	Alternatives []Locator  `json:"alternatives,omitempty"`

	// Value carries the step's payload: text for enter_text, the URL for
	// goto, the wanted option/state for choose, the delay in milliseconds
	// for a fixed pause, the scroll direction for scroll.
	Value string `json:"value,omitempty"`
	// OptionIndex selects a list option by position when neither value nor
	// visible text matched (0 based).
	OptionIndex *int `json:"option_index,omitempty"`
	// ClearFirst empties a field before enter_text writes it.
	ClearFirst bool `json:"clear_first,omitempty"`
	// What and Attribute qualify read steps.
	What      ReadWhat `json:"what,omitempty"`
	Attribute string   `json:"attribute,omitempty"`

	Wait *WaitCondition `json:"wait,omitempty"`
	// Optional steps record their failure and let the plan continue.
	Optional  bool   `json:"optional,omitempty"`
	Rationale string `json:"rationale,omitempty"`
}

// Validate checks a single untrusted step before execution.
func (s *ActionStep) Validate() error {
	if _, ok := knownKinds[s.Kind]; !ok {
		return fmt.Errorf("unknown action kind %q", s.Kind)
	}
	switch s.Kind {
	case ActionGoto:
		if s.Value == "" {
			return fmt.Errorf("goto step requires a target URL")
		}
	case ActionEnterText:
		if s.Target.IsZero() {
			return fmt.Errorf("enter_text step requires a target locator")
		}
	case ActionPause:
		if s.Value == "" && s.Wait == nil {
			return fmt.Errorf("pause step requires a delay or a wait condition")
		}
	case ActionActivate, ActionChoose, ActionRead:
		// A step with no locator at all degrades to a free-text lookup on
		// its value; it must then at least carry a value.
		if s.Target.IsZero() && s.Value == "" {
			return fmt.Errorf("%s step requires a locator or a value", s.Kind)
		}
	}
	return nil
}

// EffectiveTarget resolves the no-locator edge case: a step lacking any
// locator is interpreted as a free-text description of its value.
func (s *ActionStep) EffectiveTarget() Locator {
	if !s.Target.IsZero() {
		return s.Target
	}
	return Locator{Text: s.Value}
}

// ActionPlan is an ordered sequence of steps plus a fallback map keyed by
// Locator.Key(). Steps execute strictly in order, never reordered and never
// in parallel.
type ActionPlan struct {
	TaskID     string               `json:"task_id,omitempty"`
	Steps      []ActionStep         `json:"steps"`
	Fallbacks  map[string][]Locator `json:"fallbacks,omitempty"`
	Confidence float64              `json:"confidence,omitempty"`
	Summary    string               `json:"summary,omitempty"`
}

// AlternativesFor merges a step's own alternatives with the plan-level
// fallbacks registered for its target.
func (p *ActionPlan) AlternativesFor(step *ActionStep) []Locator {
	alts := make([]Locator, 0, len(step.Alternatives))
	alts = append(alts, step.Alternatives...)
	if p.Fallbacks != nil {
		alts = append(alts, p.Fallbacks[step.EffectiveTarget().Key()]...)
	}
	return alts
}

// ActionResult is the outcome of one executed step.
type ActionResult struct {
	Success bool `json:"success"`
	// Changed reports whether the action mutated page state. Idempotent
	// choose steps on an already-correct control report success with
	// Changed=false.
	Changed   bool               `json:"changed"`
	Element   *ElementDescriptor `json:"element,omitempty"`
	Message   string             `json:"message,omitempty"`
	Extracted string             `json:"extracted,omitempty"`
	// Category is set when Success is false.
	Category ErrorCategory `json:"category,omitempty"`
}

// HistoryKind distinguishes executed actions from contextual events.
type HistoryKind string

const (
	HistoryAction HistoryKind = "action"
	HistoryEvent  HistoryKind = "event"
)

// HistoryEntry is one append-only record in a task's action history. The
// history lives exactly as long as one task execution and is never
// persisted across tasks.
type HistoryEntry struct {
	Kind      HistoryKind   `json:"kind"`
	Step      *ActionStep   `json:"step,omitempty"`
	Result    *ActionResult `json:"result,omitempty"`
	Event     string        `json:"event,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// ErrorCategory is the closed classification of execution failures. It
// drives recovery-strategy selection.
type ErrorCategory string

const (
	ErrCategoryElementMissing ErrorCategory = "element_missing"
	ErrCategoryTimeout        ErrorCategory = "timeout"
	ErrCategoryPermission     ErrorCategory = "permission_denied"
	ErrCategoryNetwork        ErrorCategory = "network_error"
	ErrCategoryPageChange     ErrorCategory = "unexpected_page_change"
	ErrCategoryUnknown        ErrorCategory = "unknown"
)

// Categories returns the closed set, useful for exhaustive table tests.
func Categories() []ErrorCategory {
	return []ErrorCategory{
		ErrCategoryElementMissing,
		ErrCategoryTimeout,
		ErrCategoryPermission,
		ErrCategoryNetwork,
		ErrCategoryPageChange,
		ErrCategoryUnknown,
	}
}
