// browser/resolver/resolver.go
// Package resolver turns a plan locator into concrete element descriptors.
// It is a pure read path: strategies query the captured snapshot tree, and
// candidates are confirmed against the live page before being returned.
package resolver

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
	"github.com/dkastrov/taskpilot-cli/internal/browser/snapshot"
)

// Prober re-checks a candidate against the live page. Geometry and
// interactability can shift between capture and act time, so the static
// inventory alone is never trusted for the final answer.
type Prober interface {
	ProbeElement(ctx context.Context, xpath string) (*schemas.ElementState, error)
}

// Resolver runs the fixed strategy chain. Strategies are ordered cheapest
// and most precise first; a later strategy runs only when every earlier one
// produced zero interactable elements.
type Resolver struct {
	logger *zap.Logger
	prober Prober
	// Trace, when set, receives the name of each strategy as it is tried.
	Trace func(strategy string)
}

// New creates a resolver. A nil prober skips live confirmation and trusts
// the snapshot's static interactability, which is what offline tests use.
func New(prober Prober, logger *zap.Logger) *Resolver {
	return &Resolver{
		logger: logger.Named("resolver"),
		prober: prober,
	}
}

type strategyFn func(loc schemas.Locator, doc *snapshot.Document) []schemas.ElementDescriptor

// Resolve maps a locator to ranked, interactable descriptors. An empty
// result is an ordinary miss, not an error.
func (r *Resolver) Resolve(ctx context.Context, loc schemas.Locator, doc *snapshot.Document) []schemas.ElementDescriptor {
	if doc == nil || loc.IsZero() {
		return nil
	}

	strategies := []struct {
		name string
		fn   strategyFn
	}{
		{"selector", r.bySelector},
		{"text", r.byText},
		{"pattern", r.byPattern},
		{"similarity", r.bySimilarity},
	}

	for _, s := range strategies {
		if ctx.Err() != nil {
			return nil
		}
		if r.Trace != nil {
			r.Trace(s.name)
		}

		candidates := s.fn(loc, doc)
		confirmed := r.confirm(ctx, candidates)
		if len(confirmed) > 0 {
			r.logger.Debug("Locator resolved",
				zap.String("locator", loc.String()),
				zap.String("strategy", s.name),
				zap.Int("candidates", len(confirmed)),
			)
			return confirmed
		}
	}

	r.logger.Debug("Locator resolved to nothing", zap.String("locator", loc.String()))
	return nil
}

// confirm drops candidates the live page reports as non-interactable and
// fills in current geometry. Without a prober the static flag stands.
func (r *Resolver) confirm(ctx context.Context, candidates []schemas.ElementDescriptor) []schemas.ElementDescriptor {
	if len(candidates) == 0 {
		return nil
	}
	if r.prober == nil {
		out := candidates[:0:0]
		for _, c := range candidates {
			if c.Interactable {
				out = append(out, c)
			}
		}
		return out
	}

	out := make([]schemas.ElementDescriptor, 0, len(candidates))
	for _, c := range candidates {
		state, err := r.prober.ProbeElement(ctx, c.Selector)
		if err != nil {
			r.logger.Debug("Live probe failed for candidate",
				zap.String("selector", c.Selector), zap.Error(err))
			continue
		}
		if !state.Interactable() {
			continue
		}
		c.Interactable = true
		c.Box = state.Rect
		out = append(out, c)
	}
	return out
}

// -- Strategy 1: structural selector --

// bySelector interprets Locator.Selector as XPath, or as one of the simple
// CSS forms plans commonly emit (#id, .class, bare tag).
func (r *Resolver) bySelector(loc schemas.Locator, doc *snapshot.Document) []schemas.ElementDescriptor {
	if loc.Selector == "" {
		return nil
	}

	xpath := toXPath(loc.Selector)
	nodes, err := doc.Query(xpath)
	if err != nil {
		r.logger.Debug("Selector rejected", zap.String("selector", loc.Selector), zap.Error(err))
		return nil
	}
	return describeAll(nodes, doc.Page.Epoch)
}

// toXPath widens the accepted selector syntax. Anything already shaped like
// an XPath passes through untouched.
func toXPath(sel string) string {
	sel = strings.TrimSpace(sel)
	switch {
	case strings.HasPrefix(sel, "/") || strings.HasPrefix(sel, "(") || strings.HasPrefix(sel, "./"):
		return sel
	case strings.HasPrefix(sel, "."):
		return classXPath("*", sel[1:])
	case strings.HasPrefix(sel, "#"):
		return `//*[@id='` + escapeXPathLiteral(sel[1:]) + `']`
	default:
		if tag, class, ok := strings.Cut(sel, "."); ok && tag != "" {
			return classXPath(tag, class)
		}
		return "//" + sel
	}
}

func classXPath(tag, class string) string {
	return "//" + tag + `[contains(concat(' ', normalize-space(@class), ' '), ' ` +
		escapeXPathLiteral(class) + ` ')]`
}

func escapeXPathLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "")
}

// -- Strategy 2: visible text --

// textMatch pairs a descriptor with its match quality for ranking.
type textMatch struct {
	desc schemas.ElementDescriptor
	rank int
}

const (
	rankExact = iota
	rankPrefix
	rankContains
)

// byText matches case-insensitive over visible text and label attributes of
// the inventoried elements.
func (r *Resolver) byText(loc schemas.Locator, doc *snapshot.Document) []schemas.ElementDescriptor {
	needle := strings.ToLower(strings.TrimSpace(loc.Text))
	if needle == "" {
		needle = strings.ToLower(strings.TrimSpace(loc.Hint))
	}
	if needle == "" {
		return nil
	}

	var matches []textMatch
	seen := make(map[string]bool)
	for _, desc := range inventory(&doc.Page) {
		if seen[desc.Selector] {
			continue
		}
		rank, ok := matchText(desc, needle)
		if !ok {
			continue
		}
		seen[desc.Selector] = true
		matches = append(matches, textMatch{desc: desc, rank: rank})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].rank < matches[j].rank })

	out := make([]schemas.ElementDescriptor, 0, len(matches))
	for _, m := range matches {
		out = append(out, m.desc)
	}
	return out
}

func matchText(desc schemas.ElementDescriptor, needle string) (int, bool) {
	for _, hay := range []string{desc.Text, desc.Label, desc.Name} {
		hay = strings.ToLower(strings.TrimSpace(hay))
		if hay == "" {
			continue
		}
		switch {
		case hay == needle:
			return rankExact, true
		case strings.HasPrefix(hay, needle):
			return rankPrefix, true
		case strings.Contains(hay, needle):
			return rankContains, true
		}
	}
	return 0, false
}

// inventory flattens every snapshot collection into one candidate stream.
func inventory(snap *schemas.PageSnapshot) []schemas.ElementDescriptor {
	out := make([]schemas.ElementDescriptor, 0,
		len(snap.Controls)+len(snap.Fields)+len(snap.Links))
	out = append(out, snap.Controls...)
	out = append(out, snap.Fields...)
	out = append(out, snap.Links...)
	for _, form := range snap.Forms {
		out = append(out, form.Fields...)
	}
	// Extras iterate in sorted key order so results are deterministic.
	keys := make([]string, 0, len(snap.Extras))
	for k := range snap.Extras {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, snap.Extras[k]...)
	}
	return out
}

// -- Strategy 4: similarity --

// bySimilarity loosens an exact id or class token from the selector to a
// substring match on the same attribute family. It never crosses families:
// an id token is only retried against @id.
func (r *Resolver) bySimilarity(loc schemas.Locator, doc *snapshot.Document) []schemas.ElementDescriptor {
	attr, token := looseToken(loc.Selector)
	if token == "" {
		return nil
	}

	xpath := `//*[contains(@` + attr + `,'` + escapeXPathLiteral(token) + `')]`
	nodes, err := doc.Query(xpath)
	if err != nil {
		return nil
	}
	return describeAll(nodes, doc.Page.Epoch)
}

// looseToken extracts the id/class token a selector was anchored on.
func looseToken(sel string) (attr, token string) {
	sel = strings.TrimSpace(sel)
	switch {
	case strings.HasPrefix(sel, "#"):
		return "id", sel[1:]
	case strings.HasPrefix(sel, ".") && !strings.HasPrefix(sel, "./"):
		return "class", strings.TrimPrefix(sel, ".")
	}
	// XPath forms: pick the first @id='…' or @class='…' literal.
	for _, a := range []string{"id", "class"} {
		marker := "@" + a + "='"
		if idx := strings.Index(sel, marker); idx >= 0 {
			rest := sel[idx+len(marker):]
			if end := strings.IndexByte(rest, '\''); end > 0 {
				return a, rest[:end]
			}
		}
	}
	return "", ""
}

func describeAll(nodes []*html.Node, epoch uint64) []schemas.ElementDescriptor {
	if len(nodes) == 0 {
		return nil
	}
	out := make([]schemas.ElementDescriptor, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, snapshot.Describe(node, epoch))
	}
	return out
}
