// browser/executor/executor.go
// Package executor carries out single plan steps against the live page.
// Failures never escape as raw errors: every execution produces an
// ActionResult with a classification the recovery engine can act on.
package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
	"github.com/dkastrov/taskpilot-cli/internal/browser/snapshot"
	"github.com/dkastrov/taskpilot-cli/internal/config"
	"github.com/dkastrov/taskpilot-cli/internal/recovery"
)

// Page is the minimal control surface the executor needs from the browser.
// Selectors are XPath. Implementations live in the browser session; tests
// supply fakes.
type Page interface {
	ProbeElement(ctx context.Context, xpath string) (*schemas.ElementState, error)
	ScrollIntoView(ctx context.Context, xpath string) error
	// FlashOutline paints a short-lived visual marker on the element.
	FlashOutline(ctx context.Context, xpath string) error
	Click(ctx context.Context, xpath string) error
	// ClickAt dispatches a synthesized mouse press/release at viewport
	// coordinates, the fallback when the DOM-level click is rejected.
	ClickAt(ctx context.Context, x, y float64) error
	SelectByValue(ctx context.Context, xpath, value string) error
	SelectByText(ctx context.Context, xpath, text string) error
	SelectByIndex(ctx context.Context, xpath string, index int) error
	// SetText writes a field and fires input+change events so dependent
	// page logic runs.
	SetText(ctx context.Context, xpath, text string, clearFirst bool) error
	// Scroll moves the element (xpath set) or the window (xpath empty).
	Scroll(ctx context.Context, xpath, direction string) error
	Navigate(ctx context.Context, url string) error
	Extract(ctx context.Context, xpath string, what schemas.ReadWhat, attribute string) (string, error)
}

// ElementResolver maps locators to interactable descriptors.
type ElementResolver interface {
	Resolve(ctx context.Context, loc schemas.Locator, doc *snapshot.Document) []schemas.ElementDescriptor
}

// Executor runs validated steps. Resolution happens immediately before the
// primitive action, never across a suspension point, so a descriptor can
// never go stale between lookup and use.
type Executor struct {
	logger   *zap.Logger
	page     Page
	resolver ElementResolver
	cfg      config.TaskConfig
}

// New creates an executor.
func New(page Page, resolver ElementResolver, cfg config.TaskConfig, logger *zap.Logger) *Executor {
	return &Executor{
		logger:   logger.Named("executor"),
		page:     page,
		resolver: resolver,
		cfg:      cfg,
	}
}

// Execute runs one step against the current document and returns its
// outcome. It never panics and never returns; all failure modes collapse
// into the result.
func (e *Executor) Execute(ctx context.Context, step *schemas.ActionStep, doc *snapshot.Document) (result schemas.ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Recovered panic during step execution",
				zap.String("kind", string(step.Kind)), zap.Any("panic", r))
			result = e.failf(nil, "internal failure executing %s step: %v", step.Kind, r)
		}
	}()

	if err := step.Validate(); err != nil {
		return e.failf(err, "invalid step: %v", err)
	}

	switch step.Kind {
	case schemas.ActionActivate:
		return e.activate(ctx, step, doc)
	case schemas.ActionChoose:
		return e.choose(ctx, step, doc)
	case schemas.ActionEnterText:
		return e.enterText(ctx, step, doc)
	case schemas.ActionScroll:
		return e.scroll(ctx, step, doc)
	case schemas.ActionPause:
		return e.pause(ctx, step, doc)
	case schemas.ActionRead:
		return e.read(ctx, step, doc)
	case schemas.ActionGoto:
		return e.goTo(ctx, step)
	default:
		return e.failf(nil, "unknown action kind %q", step.Kind)
	}
}

// resolveOne resolves the step's effective target and returns the top
// candidate, re-probed for live interactability. The probe is the last
// thing that happens before the primitive.
func (e *Executor) resolveOne(ctx context.Context, step *schemas.ActionStep, doc *snapshot.Document) (*schemas.ElementDescriptor, *schemas.ElementState, error) {
	loc := step.EffectiveTarget()
	candidates := e.resolver.Resolve(ctx, loc, doc)
	if len(candidates) == 0 {
		return nil, nil, fmt.Errorf("no element matched locator %s", loc)
	}

	desc := candidates[0]
	state, err := e.page.ProbeElement(ctx, desc.Selector)
	if err != nil {
		return nil, nil, fmt.Errorf("probing %s: %w", desc.Selector, err)
	}
	if !state.Interactable() {
		return nil, nil, fmt.Errorf("no element matched locator %s in an interactable state", loc)
	}
	return &desc, state, nil
}

// -- activate --

func (e *Executor) activate(ctx context.Context, step *schemas.ActionStep, doc *snapshot.Document) schemas.ActionResult {
	desc, _, err := e.resolveOne(ctx, step, doc)
	if err != nil {
		return e.failf(err, "activate: %v", err)
	}

	if err := e.settle(ctx, desc.Selector); err != nil {
		return e.failf(err, "activate: %v", err)
	}

	if err := e.page.Click(ctx, desc.Selector); err != nil {
		e.logger.Debug("DOM click rejected, synthesizing mouse event",
			zap.String("selector", desc.Selector), zap.Error(err))
		if err := e.clickByCoordinates(ctx, desc.Selector); err != nil {
			return e.failf(err, "activate: click failed: %v", err)
		}
	}

	return schemas.ActionResult{
		Success: true,
		Changed: true,
		Element: desc,
		Message: "activated " + describe(desc),
	}
}

// settle scrolls the element into view, lets the page settle, and paints
// the transient marker. Marker failures are cosmetic and ignored.
func (e *Executor) settle(ctx context.Context, xpath string) error {
	if err := e.page.ScrollIntoView(ctx, xpath); err != nil {
		return fmt.Errorf("scrolling into view: %w", err)
	}
	if err := sleepCtx(ctx, e.cfg.SettleDelay); err != nil {
		return err
	}
	if err := e.page.FlashOutline(ctx, xpath); err != nil {
		e.logger.Debug("Visual marker failed", zap.Error(err))
	}
	return nil
}

// clickByCoordinates re-probes for fresh geometry and dispatches a raw
// mouse click at the element's visual center.
func (e *Executor) clickByCoordinates(ctx context.Context, xpath string) error {
	state, err := e.page.ProbeElement(ctx, xpath)
	if err != nil {
		return fmt.Errorf("re-probing for coordinates: %w", err)
	}
	if !state.Interactable() {
		return fmt.Errorf("no element at %s in an interactable state", xpath)
	}
	x, y := state.Rect.Center()
	return e.page.ClickAt(ctx, x, y)
}

// -- choose --

func (e *Executor) choose(ctx context.Context, step *schemas.ActionStep, doc *snapshot.Document) schemas.ActionResult {
	desc, state, err := e.resolveOne(ctx, step, doc)
	if err != nil {
		return e.failf(err, "choose: %v", err)
	}

	if desc.Tag == "select" || state.Tag == "select" {
		return e.chooseOption(ctx, step, desc, state)
	}

	switch state.Type {
	case "checkbox", "radio":
		return e.chooseBinary(ctx, step, desc, state)
	default:
		if desc.Role == "checkbox" || desc.Role == "radio" {
			return e.chooseBinary(ctx, step, desc, state)
		}
		return e.failf(nil, "choose: element %s is not a choosable control", describe(desc))
	}
}

// chooseBinary toggles a checkbox or radio toward the desired state. An
// already-correct control is left untouched and reports Changed=false.
func (e *Executor) chooseBinary(ctx context.Context, step *schemas.ActionStep, desc *schemas.ElementDescriptor, state *schemas.ElementState) schemas.ActionResult {
	desired := desiredChecked(step.Value)
	// Radios cannot be unchecked by clicking; the only meaningful target
	// state is checked.
	if state.Type == "radio" {
		desired = true
	}

	if state.Checked == desired {
		return schemas.ActionResult{
			Success: true,
			Changed: false,
			Element: desc,
			Message: describe(desc) + " already in the requested state",
		}
	}

	if err := e.settle(ctx, desc.Selector); err != nil {
		return e.failf(err, "choose: %v", err)
	}
	if err := e.page.Click(ctx, desc.Selector); err != nil {
		if err := e.clickByCoordinates(ctx, desc.Selector); err != nil {
			return e.failf(err, "choose: toggling %s: %v", describe(desc), err)
		}
	}

	return schemas.ActionResult{
		Success: true,
		Changed: true,
		Element: desc,
		Message: "set " + describe(desc),
	}
}

// chooseOption picks a list option by value, then by visible text, then by
// index. Selecting the already-selected option reports Changed=false.
func (e *Executor) chooseOption(ctx context.Context, step *schemas.ActionStep, desc *schemas.ElementDescriptor, state *schemas.ElementState) schemas.ActionResult {
	target := strings.TrimSpace(step.Value)

	// Idempotence: is the wanted option already selected?
	for _, opt := range state.Options {
		if !opt.Selected {
			continue
		}
		if (target != "" && (opt.Value == target || strings.EqualFold(strings.TrimSpace(opt.Text), target))) ||
			(target == "" && step.OptionIndex != nil && optionIndexOf(state.Options, opt) == *step.OptionIndex) {
			return schemas.ActionResult{
				Success: true,
				Changed: false,
				Element: desc,
				Message: describe(desc) + " already has the requested option selected",
			}
		}
	}

	if err := e.settle(ctx, desc.Selector); err != nil {
		return e.failf(err, "choose: %v", err)
	}

	if target != "" {
		if hasOptionValue(state.Options, target) {
			if err := e.page.SelectByValue(ctx, desc.Selector, target); err != nil {
				return e.failf(err, "choose: selecting value %q: %v", target, err)
			}
			return e.chosen(desc, "value "+target)
		}
		if hasOptionText(state.Options, target) {
			if err := e.page.SelectByText(ctx, desc.Selector, target); err != nil {
				return e.failf(err, "choose: selecting option %q: %v", target, err)
			}
			return e.chosen(desc, "option "+target)
		}
	}
	if step.OptionIndex != nil {
		idx := *step.OptionIndex
		if idx < 0 || idx >= len(state.Options) {
			return e.failf(nil, "choose: option index %d out of range (%d options)", idx, len(state.Options))
		}
		if err := e.page.SelectByIndex(ctx, desc.Selector, idx); err != nil {
			return e.failf(err, "choose: selecting index %d: %v", idx, err)
		}
		return e.chosen(desc, fmt.Sprintf("index %d", idx))
	}

	return e.failf(nil, "choose: no option matching %q in %s", target, describe(desc))
}

func (e *Executor) chosen(desc *schemas.ElementDescriptor, what string) schemas.ActionResult {
	return schemas.ActionResult{
		Success: true,
		Changed: true,
		Element: desc,
		Message: "selected " + what + " in " + describe(desc),
	}
}

// -- enter_text --

func (e *Executor) enterText(ctx context.Context, step *schemas.ActionStep, doc *snapshot.Document) schemas.ActionResult {
	desc, state, err := e.resolveOne(ctx, step, doc)
	if err != nil {
		return e.failf(err, "enter_text: %v", err)
	}
	if !state.Editable {
		return e.failf(nil, "enter_text: no text-capable element matched locator %s", step.EffectiveTarget())
	}

	if state.Value == step.Value && !step.ClearFirst {
		return schemas.ActionResult{
			Success: true,
			Changed: false,
			Element: desc,
			Message: describe(desc) + " already holds the requested text",
		}
	}

	if err := e.settle(ctx, desc.Selector); err != nil {
		return e.failf(err, "enter_text: %v", err)
	}
	if err := e.page.SetText(ctx, desc.Selector, step.Value, step.ClearFirst); err != nil {
		return e.failf(err, "enter_text: writing %s: %v", describe(desc), err)
	}

	return schemas.ActionResult{
		Success: true,
		Changed: true,
		Element: desc,
		Message: "wrote text into " + describe(desc),
	}
}

// -- scroll --

func (e *Executor) scroll(ctx context.Context, step *schemas.ActionStep, doc *snapshot.Document) schemas.ActionResult {
	direction := strings.ToLower(strings.TrimSpace(step.Value))
	if direction == "" {
		direction = "down"
	}

	// With a target: bring the element into view instead of paging.
	if !step.Target.IsZero() {
		desc, _, err := e.resolveOne(ctx, step, doc)
		if err != nil {
			return e.failf(err, "scroll: %v", err)
		}
		if err := e.page.ScrollIntoView(ctx, desc.Selector); err != nil {
			return e.failf(err, "scroll: %v", err)
		}
		return schemas.ActionResult{Success: true, Changed: true, Element: desc,
			Message: "scrolled " + describe(desc) + " into view"}
	}

	if err := e.page.Scroll(ctx, "", direction); err != nil {
		return e.failf(err, "scroll: %v", err)
	}
	return schemas.ActionResult{Success: true, Changed: true, Message: "scrolled window " + direction}
}

// -- pause --

func (e *Executor) pause(ctx context.Context, step *schemas.ActionStep, doc *snapshot.Document) schemas.ActionResult {
	if step.Wait == nil {
		ms, err := strconv.Atoi(strings.TrimSpace(step.Value))
		if err != nil || ms < 0 {
			return e.failf(err, "pause: invalid delay %q", step.Value)
		}
		if err := sleepCtx(ctx, time.Duration(ms)*time.Millisecond); err != nil {
			return e.failf(err, "pause: %v", err)
		}
		return schemas.ActionResult{Success: true, Message: fmt.Sprintf("paused %dms", ms)}
	}
	return e.pollCondition(ctx, step.Wait, doc)
}

// pollCondition polls a wait condition at the fixed interval until it holds
// or the bounded timeout elapses.
func (e *Executor) pollCondition(ctx context.Context, cond *schemas.WaitCondition, doc *snapshot.Document) schemas.ActionResult {
	timeout := e.cfg.DefaultWaitTimeout
	if cond.TimeoutMs > 0 {
		timeout = time.Duration(cond.TimeoutMs) * time.Millisecond
	}

	deadline := time.Now().Add(timeout)
	for {
		holds, err := e.conditionHolds(ctx, cond, doc)
		if err != nil {
			return e.failf(err, "pause: %v", err)
		}
		if holds {
			return schemas.ActionResult{Success: true,
				Message: fmt.Sprintf("condition %s %s satisfied", cond.Target, cond.Until)}
		}
		if time.Now().After(deadline) {
			return e.failf(nil, "pause: timeout waiting for %s to %s", cond.Target, cond.Until)
		}
		if err := sleepCtx(ctx, e.cfg.PollInterval); err != nil {
			return e.failf(err, "pause: %v", err)
		}
	}
}

// conditionHolds checks one poll tick. The wait target is pinned to an
// XPath where possible so the live page, not the stale snapshot, answers.
func (e *Executor) conditionHolds(ctx context.Context, cond *schemas.WaitCondition, doc *snapshot.Document) (bool, error) {
	xpath := e.pinXPath(ctx, cond.Target, doc)

	present := false
	if xpath != "" {
		state, err := e.page.ProbeElement(ctx, xpath)
		if err != nil {
			return false, fmt.Errorf("probing wait target: %w", err)
		}
		present = state.Exists && state.Visible
	}

	switch cond.Until {
	case schemas.WaitDisappear:
		return !present, nil
	default: // appear
		return present, nil
	}
}

// pinXPath fixes the wait target to a concrete XPath: an explicit selector
// wins, otherwise the snapshot resolution of the locator.
func (e *Executor) pinXPath(ctx context.Context, loc schemas.Locator, doc *snapshot.Document) string {
	if loc.Selector != "" {
		return loc.Selector
	}
	if candidates := e.resolver.Resolve(ctx, loc, doc); len(candidates) > 0 {
		return candidates[0].Selector
	}
	return ""
}

// -- read --

func (e *Executor) read(ctx context.Context, step *schemas.ActionStep, doc *snapshot.Document) schemas.ActionResult {
	desc, _, err := e.resolveOne(ctx, step, doc)
	if err != nil {
		return e.failf(err, "read: %v", err)
	}

	what := step.What
	if what == "" {
		what = schemas.ReadText
	}
	if what == schemas.ReadAttribute && step.Attribute == "" {
		return e.failf(nil, "read: attribute read without an attribute name")
	}

	value, err := e.page.Extract(ctx, desc.Selector, what, step.Attribute)
	if err != nil {
		return e.failf(err, "read: extracting %s: %v", what, err)
	}

	return schemas.ActionResult{
		Success:   true,
		Changed:   false,
		Element:   desc,
		Extracted: value,
		Message:   fmt.Sprintf("read %s from %s", what, describe(desc)),
	}
}

// -- goto --

func (e *Executor) goTo(ctx context.Context, step *schemas.ActionStep) schemas.ActionResult {
	if err := e.page.Navigate(ctx, step.Value); err != nil {
		return e.failf(err, "goto: navigating to %s: %v", step.Value, err)
	}
	return schemas.ActionResult{
		Success: true,
		Changed: true,
		Message: "navigated to " + step.Value,
	}
}

// -- helpers --

func (e *Executor) failf(cause error, format string, args ...interface{}) schemas.ActionResult {
	msg := fmt.Sprintf(format, args...)
	category := recovery.Classify(fmt.Errorf("%s", msg))
	if cause != nil {
		if c := recovery.Classify(cause); c != schemas.ErrCategoryUnknown {
			category = c
		}
	}
	e.logger.Debug("Step failed", zap.String("message", msg), zap.String("category", string(category)))
	return schemas.ActionResult{Success: false, Message: msg, Category: category}
}

func describe(desc *schemas.ElementDescriptor) string {
	switch {
	case desc.ID != "":
		return desc.Tag + "#" + desc.ID
	case desc.Text != "":
		return fmt.Sprintf("%s %q", desc.Tag, desc.Text)
	case desc.Name != "":
		return desc.Tag + "[name=" + desc.Name + "]"
	default:
		return desc.Tag
	}
}

func desiredChecked(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "off", "false", "uncheck", "unchecked", "no":
		return false
	default:
		return true
	}
}

func hasOptionValue(options []schemas.OptionState, value string) bool {
	for _, opt := range options {
		if !opt.Disabled && opt.Value == value {
			return true
		}
	}
	return false
}

func hasOptionText(options []schemas.OptionState, text string) bool {
	for _, opt := range options {
		if !opt.Disabled && strings.EqualFold(strings.TrimSpace(opt.Text), text) {
			return true
		}
	}
	return false
}

func optionIndexOf(options []schemas.OptionState, target schemas.OptionState) int {
	for i, opt := range options {
		if opt == target {
			return i
		}
	}
	return -1
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
