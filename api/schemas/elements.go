package schemas

import "time"

// -- Page & Element Schemas --

// SiteCategory classifies the kind of page the agent is working against.
// Categories drive the selection of extra locator heuristics; they never
// change the resolver's strategy chain itself.
type SiteCategory string

const (
	SiteForum   SiteCategory = "forum"   // vote/post structures (aggregators, discussion boards)
	SiteQuiz    SiteCategory = "quiz"    // dense radio/checkbox question groups
	SiteForm    SiteCategory = "form"    // generic data-entry forms
	SiteTable   SiteCategory = "table"   // tabular data pages
	SiteGeneric SiteCategory = "generic" // everything else
)

// Rect is an element's bounding box in CSS pixels, viewport relative.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the visual midpoint of the box.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// ElementDescriptor is an opaque handle to one interactive element plus the
// attributes derived at capture time. A descriptor is only valid for the
// snapshot epoch it was produced in; after any mutation it must be
// re-resolved, since no element is assumed to keep a stable identity.
type ElementDescriptor struct {
	// Selector is a unique XPath targeting the element at capture time.
	Selector string `json:"selector"`
	Tag      string `json:"tag"`
	Role     string `json:"role,omitempty"`
	Type     string `json:"type,omitempty"`
	Text     string `json:"text,omitempty"`
	Name     string `json:"name,omitempty"`
	ID       string `json:"id,omitempty"`
	// Label aggregates aria-label, placeholder and title, first non-empty wins.
	Label string `json:"label,omitempty"`
	Box   Rect   `json:"box,omitempty"`
	// Interactable means: not display suppressed, non-zero area, not
	// pointer blocked and not disabled, as far as the capture could tell.
	Interactable bool `json:"interactable"`
	// Epoch ties the descriptor to the snapshot it came from.
	Epoch uint64 `json:"epoch"`
}

// FormDescriptor bundles a structural form with its own fields.
type FormDescriptor struct {
	Selector  string              `json:"selector"`
	Name      string              `json:"name,omitempty"`
	ActionURL string              `json:"action_url,omitempty"`
	Method    string              `json:"method,omitempty"`
	Fields    []ElementDescriptor `json:"fields,omitempty"`
}

// PageSnapshot is an immutable, read-only inventory of a page's interactive
// surface, built once per phase. A snapshot never outlives the mutation
// epoch it was captured in; the orchestrator requests a fresh one whenever
// the change monitor reports drift.
type PageSnapshot struct {
	URL        string       `json:"url"`
	Title      string       `json:"title"`
	Category   SiteCategory `json:"category"`
	Epoch      uint64       `json:"epoch"`
	CapturedAt time.Time    `json:"captured_at"`

	// Actionable controls: buttons, clickable inputs, role=button elements.
	Controls []ElementDescriptor `json:"controls,omitempty"`
	// Input-capable fields: text inputs, textareas, selects, contenteditable.
	Fields []ElementDescriptor `json:"fields,omitempty"`
	Forms  []FormDescriptor    `json:"forms,omitempty"`
	Links  []ElementDescriptor `json:"links,omitempty"`
	// Extras holds the site-specific collections chosen by Category,
	// keyed by heuristic name (e.g. "vote_buttons", "quiz_options").
	Extras map[string][]ElementDescriptor `json:"extras,omitempty"`
}

// ElementCount reports the total number of inventoried elements.
func (p *PageSnapshot) ElementCount() int {
	n := len(p.Controls) + len(p.Fields) + len(p.Links)
	for _, f := range p.Forms {
		n += len(f.Fields)
	}
	for _, ex := range p.Extras {
		n += len(ex)
	}
	return n
}

// OptionState describes one option of a live <select> element.
type OptionState struct {
	Value    string `json:"value"`
	Text     string `json:"text"`
	Selected bool   `json:"selected"`
	Disabled bool   `json:"disabled"`
}

// ElementState is the live, point-in-time state of one element as probed
// through the browser immediately before acting on it.
type ElementState struct {
	Exists   bool   `json:"exists"`
	Visible  bool   `json:"visible"`
	Blocked  bool   `json:"blocked"`
	Disabled bool   `json:"disabled"`
	InView   bool   `json:"in_view"`
	Rect     Rect   `json:"rect"`
	Tag      string `json:"tag"`
	Type     string `json:"type,omitempty"`
	Checked  bool   `json:"checked"`
	Value    string `json:"value,omitempty"`
	// Editable is true for text-capable inputs, textareas and
	// contenteditable regions.
	Editable bool          `json:"editable"`
	Options  []OptionState `json:"options,omitempty"`
}

// Interactable applies the shared interactability definition to live state.
func (s *ElementState) Interactable() bool {
	return s.Exists && s.Visible && !s.Blocked && !s.Disabled &&
		s.Rect.Width > 0 && s.Rect.Height > 0
}
