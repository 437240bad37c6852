// browser/snapshot/snapshot_test.go
package snapshot

import (
	"context"
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
)

// fakePage feeds canned markup to the capturer.
type fakePage struct {
	url    string
	title  string
	markup string
}

func (f *fakePage) Location(context.Context) (string, error)  { return f.url, nil }
func (f *fakePage) PageTitle(context.Context) (string, error) { return f.title, nil }
func (f *fakePage) OuterHTML(context.Context) (string, error) { return f.markup, nil }

const formPageHTML = `<html><head><title>Signup</title></head><body>
<form id="signup" action="/register" method="post" name="signup">
  <input type="text" name="username" placeholder="Username">
  <input type="email" name="email" aria-label="Email address">
  <input type="hidden" name="csrf" value="tok">
  <input type="text" name="notes" disabled>
  <select name="country"><option value="de">Germany</option><option value="fr">France</option></select>
  <button type="submit">Create account</button>
</form>
<a href="/login">Already registered?</a>
</body></html>`

func newTestCapturer(t *testing.T, markup string) (*Capturer, *fakePage) {
	t.Helper()
	page := &fakePage{url: "https://example.test/page", title: "Test Page", markup: markup}
	return NewCapturer(page, 60, zaptest.NewLogger(t)), page
}

func TestCapture_FormPage(t *testing.T) {
	capturer, page := newTestCapturer(t, formPageHTML)
	page.title = "Signup"

	doc, err := capturer.Capture(context.Background())
	require.NoError(t, err)
	require.NotNil(t, doc)

	snap := doc.Page
	assert.Equal(t, "https://example.test/page", snap.URL)
	assert.Equal(t, "Signup", snap.Title)
	assert.Equal(t, schemas.SiteForm, snap.Category)
	assert.Equal(t, uint64(1), snap.Epoch)

	// The submit button lands in controls.
	require.NotEmpty(t, snap.Controls)
	var foundSubmit bool
	for _, ctl := range snap.Controls {
		if ctl.Text == "Create account" {
			foundSubmit = true
			assert.Equal(t, "button", ctl.Tag)
			assert.True(t, ctl.Interactable)
		}
	}
	assert.True(t, foundSubmit, "submit button should be inventoried")

	// Text fields and the select land in fields; hidden and disabled do not.
	names := make([]string, 0, len(snap.Fields))
	for _, f := range snap.Fields {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "username")
	assert.Contains(t, names, "email")
	assert.Contains(t, names, "country")
	assert.NotContains(t, names, "csrf", "hidden inputs are not interactable")
	assert.NotContains(t, names, "notes", "disabled inputs are not interactable")

	// The form descriptor carries its own nested fields.
	require.Len(t, snap.Forms, 1)
	assert.Equal(t, "/register", snap.Forms[0].ActionURL)
	assert.Equal(t, "POST", snap.Forms[0].Method)
	assert.NotEmpty(t, snap.Forms[0].Fields)

	require.Len(t, snap.Links, 1)
	assert.Equal(t, "Already registered?", snap.Links[0].Text)
}

func TestCapture_EpochIncrements(t *testing.T) {
	capturer, _ := newTestCapturer(t, formPageHTML)

	first, err := capturer.Capture(context.Background())
	require.NoError(t, err)
	second, err := capturer.Capture(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(1), first.Page.Epoch)
	assert.Equal(t, uint64(2), second.Page.Epoch)
	require.NotEmpty(t, second.Page.Controls)
	assert.Equal(t, uint64(2), second.Page.Controls[0].Epoch,
		"descriptors carry the epoch of the snapshot they belong to")
}

func TestCapture_CollectionCap(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for i := 0; i < 30; i++ {
		sb.WriteString(`<a href="/x">link</a>`)
	}
	sb.WriteString("</body></html>")

	page := &fakePage{url: "u", title: "t", markup: sb.String()}
	capturer := NewCapturer(page, 10, zaptest.NewLogger(t))

	doc, err := capturer.Capture(context.Background())
	require.NoError(t, err)
	assert.Len(t, doc.Page.Links, 10)
}

func TestDocument_Query(t *testing.T) {
	capturer, _ := newTestCapturer(t, formPageHTML)
	doc, err := capturer.Capture(context.Background())
	require.NoError(t, err)

	nodes, err := doc.Query(`//button`)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	_, err = doc.Query(`//button[`)
	assert.Error(t, err, "broken xpath from a plan must error, not panic")
}

func TestDescribe_LabelPriority(t *testing.T) {
	root, err := htmlquery.Parse(strings.NewReader(
		`<html><body><input type="text" aria-label="Search" placeholder="Type here" title="search box"></body></html>`))
	require.NoError(t, err)

	node := htmlquery.FindOne(root, `//input`)
	require.NotNil(t, node)

	desc := Describe(node, 1)
	assert.Equal(t, "Search", desc.Label, "aria-label wins over placeholder and title")
	assert.Equal(t, "input", desc.Tag)
	assert.Equal(t, "text", desc.Type)
	assert.True(t, desc.Interactable)
}

func TestStaticallyInteractable(t *testing.T) {
	cases := []struct {
		name   string
		markup string
		want   bool
	}{
		{"plain button", `<button>Go</button>`, true},
		{"disabled button", `<button disabled>Go</button>`, false},
		{"aria-disabled", `<button aria-disabled="true">Go</button>`, false},
		{"hidden attribute", `<button hidden>Go</button>`, false},
		{"hidden input", `<input type="hidden" name="x">`, false},
		{"display none", `<button style="display: none">Go</button>`, false},
		{"visibility hidden", `<button style="visibility: hidden">Go</button>`, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root, err := htmlquery.Parse(strings.NewReader("<html><body>" + tc.markup + "</body></html>"))
			require.NoError(t, err)
			node := htmlquery.FindOne(root, `//button | //input`)
			require.NotNil(t, node)
			assert.Equal(t, tc.want, staticallyInteractable(node))
		})
	}
}

func TestUniqueXPath(t *testing.T) {
	markup := `<html><body>
	<div id="main"><p>first</p><p>second</p></div>
	<div><span>plain</span></div>
	</body></html>`

	root, err := htmlquery.Parse(strings.NewReader(markup))
	require.NoError(t, err)

	t.Run("anchors at the nearest id", func(t *testing.T) {
		second := htmlquery.FindOne(root, `//div[@id='main']/p[2]`)
		require.NotNil(t, second)

		xpath := UniqueXPath(second)
		assert.Equal(t, `//*[@id='main']/p[2]`, xpath)

		// The generated path must resolve back to the same node.
		back := htmlquery.FindOne(root, xpath)
		assert.Same(t, second, back)
	})

	t.Run("positional path without ids", func(t *testing.T) {
		span := htmlquery.FindOne(root, `//span`)
		require.NotNil(t, span)

		xpath := UniqueXPath(span)
		assert.Equal(t, `/html[1]/body[1]/div[2]/span[1]`, xpath)

		back := htmlquery.FindOne(root, xpath)
		assert.Same(t, span, back)
	})

	t.Run("nil node", func(t *testing.T) {
		assert.Equal(t, "", UniqueXPath(nil))
	})
}
