// browser/snapshot/snapshot.go
// Package snapshot builds the immutable page inventory the planner and the
// element resolver work from. A capture reads the rendered document once,
// parses it offline and never mutates the page.
package snapshot

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
)

// PageReader is the minimal read surface a capture needs from the browser.
type PageReader interface {
	Location(ctx context.Context) (string, error)
	PageTitle(ctx context.Context) (string, error)
	OuterHTML(ctx context.Context) (string, error)
}

// Document pairs a finished snapshot with its parsed DOM tree. The tree is
// what the resolver queries; the schemas.PageSnapshot is what crosses the
// reasoning-service boundary.
type Document struct {
	Page schemas.PageSnapshot
	Root *html.Node
}

// Query runs an XPath expression against the captured tree. The expression
// may come from untrusted plan input, so compile errors are returned rather
// than panicking.
func (d *Document) Query(xpath string) ([]*html.Node, error) {
	if d.Root == nil {
		return nil, fmt.Errorf("document has no parsed tree")
	}
	nodes, err := htmlquery.QueryAll(d.Root, xpath)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", xpath, err)
	}
	return nodes, nil
}

// Capturer produces Documents from a live page.
type Capturer struct {
	logger *zap.Logger
	page   PageReader
	// maxPerCollection caps each inventory collection so huge pages do not
	// bloat the planning prompt.
	maxPerCollection int
	epoch            atomic.Uint64
}

// NewCapturer creates a capturer bound to one page.
func NewCapturer(page PageReader, maxPerCollection int, logger *zap.Logger) *Capturer {
	if maxPerCollection <= 0 {
		maxPerCollection = 60
	}
	return &Capturer{
		logger:           logger.Named("snapshot"),
		page:             page,
		maxPerCollection: maxPerCollection,
	}
}

// FromHTML builds a Document from static markup without touching a live
// page. Offline consumers and tests capture through this path.
func FromHTML(markup, url, title string, epoch uint64) (*Document, error) {
	root, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parsing markup: %w", err)
	}
	c := &Capturer{logger: zap.NewNop(), maxPerCollection: 60}
	return c.build(root, url, title, epoch), nil
}

// Inventory XPath expressions. Broad on purpose; refinement happens in Go.
const (
	controlsXPath = `//button | //summary |
		//input[@type='button' or @type='submit' or @type='reset' or @type='image' or @type='checkbox' or @type='radio'] |
		//*[@role='button' or @role='tab' or @role='menuitem' or @role='checkbox' or @role='radio']`

	fieldsXPath = `//textarea | //select |
		//input[not(@type) or (@type!='button' and @type!='submit' and @type!='reset' and @type!='image' and @type!='checkbox' and @type!='radio' and @type!='hidden')] |
		//*[normalize-space(@contenteditable)='true' or normalize-space(@contenteditable)='']`

	linksXPath = `//a[@href]`

	formsXPath = `//form`
)

// Capture reads the page once and builds a categorized inventory. An
// unclassifiable page is not an error; it lands in the generic bucket.
func (c *Capturer) Capture(ctx context.Context) (*Document, error) {
	url, err := c.page.Location(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading page location: %w", err)
	}
	title, err := c.page.PageTitle(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading page title: %w", err)
	}
	markup, err := c.page.OuterHTML(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading page markup: %w", err)
	}

	root, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parsing page markup: %w", err)
	}

	epoch := c.epoch.Add(1)
	doc := c.build(root, url, title, epoch)

	c.logger.Debug("Page snapshot captured",
		zap.String("url", url),
		zap.String("category", string(doc.Page.Category)),
		zap.Uint64("epoch", epoch),
		zap.Int("elements", doc.Page.ElementCount()),
	)
	return doc, nil
}

// build inventories an already-parsed tree. Split out so tests can feed
// static HTML without a browser.
func (c *Capturer) build(root *html.Node, url, title string, epoch uint64) *Document {
	category := Classify(root)

	snap := schemas.PageSnapshot{
		URL:        url,
		Title:      title,
		Category:   category,
		Epoch:      epoch,
		CapturedAt: time.Now(),
		Controls:   c.collect(root, controlsXPath, epoch),
		Fields:     c.collect(root, fieldsXPath, epoch),
		Links:      c.collect(root, linksXPath, epoch),
		Forms:      c.collectForms(root, epoch),
	}

	if extras := c.collectExtras(root, category, epoch); len(extras) > 0 {
		snap.Extras = extras
	}

	return &Document{Page: snap, Root: root}
}

// collect turns every match of a trusted inventory expression into a
// descriptor, skipping statically non-interactable nodes.
func (c *Capturer) collect(root *html.Node, xpath string, epoch uint64) []schemas.ElementDescriptor {
	nodes := htmlquery.Find(root, xpath)
	out := make([]schemas.ElementDescriptor, 0, len(nodes))
	for _, node := range nodes {
		if len(out) >= c.maxPerCollection {
			break
		}
		desc := Describe(node, epoch)
		if !desc.Interactable {
			continue
		}
		out = append(out, desc)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (c *Capturer) collectForms(root *html.Node, epoch uint64) []schemas.FormDescriptor {
	nodes := htmlquery.Find(root, formsXPath)
	out := make([]schemas.FormDescriptor, 0, len(nodes))
	for _, node := range nodes {
		form := schemas.FormDescriptor{
			Selector:  UniqueXPath(node),
			Name:      firstAttr(node, "name", "id"),
			ActionURL: htmlquery.SelectAttr(node, "action"),
			Method:    strings.ToUpper(htmlquery.SelectAttr(node, "method")),
		}
		for _, field := range htmlquery.Find(node, `.//input[not(@type='hidden')] | .//textarea | .//select`) {
			if len(form.Fields) >= c.maxPerCollection {
				break
			}
			desc := Describe(field, epoch)
			if !desc.Interactable {
				continue
			}
			form.Fields = append(form.Fields, desc)
		}
		out = append(out, form)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Describe pulls the descriptor attributes out of one DOM node. The box is
// left zero; geometry comes from the live probe at act time.
func Describe(node *html.Node, epoch uint64) schemas.ElementDescriptor {
	text := strings.TrimSpace(htmlquery.InnerText(node))
	if len(text) > 64 {
		text = text[:64] + "..."
	}

	return schemas.ElementDescriptor{
		Selector:     UniqueXPath(node),
		Tag:          strings.ToLower(node.Data),
		Role:         htmlquery.SelectAttr(node, "role"),
		Type:         strings.ToLower(htmlquery.SelectAttr(node, "type")),
		Text:         text,
		Name:         htmlquery.SelectAttr(node, "name"),
		ID:           htmlquery.SelectAttr(node, "id"),
		Label:        firstAttr(node, "aria-label", "placeholder", "title"),
		Interactable: staticallyInteractable(node),
		Epoch:        epoch,
	}
}

// staticallyInteractable applies the checks possible without a renderer:
// disabled states, hidden inputs and inline display suppression. The live
// geometry half of the definition is probed through the browser later.
func staticallyInteractable(node *html.Node) bool {
	attrs := make(map[string]string, len(node.Attr))
	for _, a := range node.Attr {
		attrs[a.Key] = a.Val
	}

	if _, ok := attrs["disabled"]; ok {
		return false
	}
	if attrs["aria-disabled"] == "true" {
		return false
	}
	if _, ok := attrs["hidden"]; ok {
		return false
	}
	if attrs["inert"] != "" {
		return false
	}
	if strings.EqualFold(node.Data, "input") && strings.EqualFold(attrs["type"], "hidden") {
		return false
	}
	style := strings.ToLower(strings.ReplaceAll(attrs["style"], " ", ""))
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		return false
	}
	return true
}

func firstAttr(node *html.Node, keys ...string) string {
	for _, key := range keys {
		if v := htmlquery.SelectAttr(node, key); v != "" {
			return v
		}
	}
	return ""
}
