// browser/resolver/resolver_test.go
package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
	"github.com/dkastrov/taskpilot-cli/internal/browser/snapshot"
)

const samplePageHTML = `<html><head><title>Sample</title></head><body>
<form id="signup" action="/register" method="post">
  <input type="text" id="username" name="username" placeholder="Username">
  <input type="email" name="email" aria-label="Email address">
  <select name="country"><option value="de">Germany</option></select>
  <button type="submit" id="create-account-btn">Create account</button>
</form>
<a href="/login" id="login-link">Log in</a>
<a href="/docs">Documentation</a>
<button disabled id="ghost">Unavailable</button>
</body></html>`

func sampleDoc(t *testing.T) *snapshot.Document {
	t.Helper()
	doc, err := snapshot.FromHTML(samplePageHTML, "https://example.test", "Sample", 1)
	require.NoError(t, err)
	return doc
}

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	return New(nil, zaptest.NewLogger(t))
}

func TestResolve_BySelector(t *testing.T) {
	r := newTestResolver(t)
	doc := sampleDoc(t)

	cases := []struct {
		name     string
		selector string
		wantTag  string
	}{
		{"css id", "#create-account-btn", "button"},
		{"xpath", `//form//button`, "button"},
		{"bare tag", "select", "select"},
		{"xpath id anchor", `//*[@id='username']`, "input"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Resolve(context.Background(), schemas.Locator{Selector: tc.selector}, doc)
			require.NotEmpty(t, got)
			assert.Equal(t, tc.wantTag, got[0].Tag)
		})
	}
}

func TestResolve_BySelector_InvalidXPathIsMissNotPanic(t *testing.T) {
	r := newTestResolver(t)
	doc := sampleDoc(t)

	got := r.Resolve(context.Background(), schemas.Locator{Selector: `//button[`}, doc)
	assert.Empty(t, got)
}

func TestResolve_ByText(t *testing.T) {
	r := newTestResolver(t)
	doc := sampleDoc(t)

	t.Run("case insensitive visible text", func(t *testing.T) {
		got := r.Resolve(context.Background(), schemas.Locator{Text: "create ACCOUNT"}, doc)
		require.NotEmpty(t, got)
		assert.Equal(t, "Create account", got[0].Text)
	})

	t.Run("label attribute", func(t *testing.T) {
		got := r.Resolve(context.Background(), schemas.Locator{Text: "email address"}, doc)
		require.NotEmpty(t, got)
		assert.Equal(t, "email", got[0].Name)
	})

	t.Run("exact beats containment", func(t *testing.T) {
		// "Log in" matches the login link exactly and "Documentation"
		// not at all; ranking puts the exact hit first.
		got := r.Resolve(context.Background(), schemas.Locator{Text: "log in"}, doc)
		require.NotEmpty(t, got)
		assert.Equal(t, "login-link", got[0].ID)
	})
}

func TestResolve_ByPattern(t *testing.T) {
	r := newTestResolver(t)
	doc := sampleDoc(t)

	t.Run("submit hint", func(t *testing.T) {
		got := r.Resolve(context.Background(), schemas.Locator{Hint: "the submit button"}, doc)
		require.NotEmpty(t, got)
		assert.Equal(t, "create-account-btn", got[0].ID)
	})

	t.Run("dropdown hint", func(t *testing.T) {
		got := r.Resolve(context.Background(), schemas.Locator{Hint: "country dropdown"}, doc)
		require.NotEmpty(t, got)
		assert.Equal(t, "select", got[0].Tag)
	})
}

func TestResolve_ForumVotePattern(t *testing.T) {
	const forumHTML = `<html><body>
	<div class="post">
	  <span class="upvote-arrow vote" title="upvote">▲</span>
	  <h2><a href="/1" class="title">Story one</a></h2>
	</div>
	<div class="post">
	  <span class="upvote-arrow vote" title="upvote">▲</span>
	  <h2><a href="/2" class="title">Story two</a></h2>
	</div>
	</body></html>`

	doc, err := snapshot.FromHTML(forumHTML, "u", "t", 1)
	require.NoError(t, err)
	require.Equal(t, schemas.SiteForum, doc.Page.Category)

	r := newTestResolver(t)
	got := r.Resolve(context.Background(), schemas.Locator{Hint: "upvote the first post"}, doc)
	require.Len(t, got, 2, "both vote controls rank, plan picks by order")
	assert.Equal(t, "span", got[0].Tag)
}

func TestResolve_BySimilarity(t *testing.T) {
	r := newTestResolver(t)
	doc := sampleDoc(t)

	// No element has id "create", but the id family contains it.
	got := r.Resolve(context.Background(), schemas.Locator{Selector: "#create"}, doc)
	require.NotEmpty(t, got)
	assert.Equal(t, "create-account-btn", got[0].ID)
}

func TestResolve_ShortCircuit(t *testing.T) {
	r := newTestResolver(t)
	doc := sampleDoc(t)

	var tried []string
	r.Trace = func(s string) { tried = append(tried, s) }

	// A selector hit must stop the chain at strategy one.
	got := r.Resolve(context.Background(), schemas.Locator{Selector: "#username"}, doc)
	require.NotEmpty(t, got)
	assert.Equal(t, []string{"selector"}, tried)

	// A text hit runs selector (miss) then text, nothing further.
	tried = nil
	got = r.Resolve(context.Background(), schemas.Locator{Text: "documentation"}, doc)
	require.NotEmpty(t, got)
	assert.Equal(t, []string{"selector", "text"}, tried)

	// A full miss walks the entire chain.
	tried = nil
	got = r.Resolve(context.Background(), schemas.Locator{Text: "no such thing anywhere"}, doc)
	assert.Empty(t, got)
	assert.Equal(t, []string{"selector", "text", "pattern", "similarity"}, tried)
}

func TestResolve_EmptyLocator(t *testing.T) {
	r := newTestResolver(t)
	assert.Nil(t, r.Resolve(context.Background(), schemas.Locator{}, sampleDoc(t)))
	assert.Nil(t, r.Resolve(context.Background(), schemas.Locator{Text: "x"}, nil))
}

func TestResolve_DisabledElementsNeverReturned(t *testing.T) {
	r := newTestResolver(t)
	doc := sampleDoc(t)

	got := r.Resolve(context.Background(), schemas.Locator{Selector: "#ghost"}, doc)
	assert.Empty(t, got, "a disabled control is not interactable")
}

// probeFn adapts a function to the Prober interface.
type probeFn func(ctx context.Context, xpath string) (*schemas.ElementState, error)

func (f probeFn) ProbeElement(ctx context.Context, xpath string) (*schemas.ElementState, error) {
	return f(ctx, xpath)
}

func TestResolve_LiveProbeFiltersAndFillsGeometry(t *testing.T) {
	doc := sampleDoc(t)

	probe := probeFn(func(_ context.Context, xpath string) (*schemas.ElementState, error) {
		if xpath == `//*[@id='username']` {
			return &schemas.ElementState{
				Exists:  true,
				Visible: true,
				Rect:    schemas.Rect{X: 10, Y: 20, Width: 200, Height: 30},
			}, nil
		}
		// Everything else is covered by an overlay right now.
		return &schemas.ElementState{Exists: true, Visible: true, Blocked: true,
			Rect: schemas.Rect{Width: 10, Height: 10}}, nil
	})

	r := New(probe, zaptest.NewLogger(t))

	got := r.Resolve(context.Background(), schemas.Locator{Selector: "#username"}, doc)
	require.Len(t, got, 1)
	assert.Equal(t, schemas.Rect{X: 10, Y: 20, Width: 200, Height: 30}, got[0].Box)

	got = r.Resolve(context.Background(), schemas.Locator{Selector: "#create-account-btn"}, doc)
	assert.Empty(t, got, "pointer-blocked elements are not interactable")
}

func TestResolve_ProbeErrorSkipsCandidate(t *testing.T) {
	doc := sampleDoc(t)
	probe := probeFn(func(context.Context, string) (*schemas.ElementState, error) {
		return nil, errors.New("node detached")
	})

	r := New(probe, zaptest.NewLogger(t))
	got := r.Resolve(context.Background(), schemas.Locator{Selector: "#username"}, doc)
	assert.Empty(t, got)
}
