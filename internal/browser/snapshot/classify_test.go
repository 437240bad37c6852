// browser/snapshot/classify_test.go
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

const forumPageHTML = `<html><body>
<div class="post">
  <button class="upvote" aria-label="upvote">▲</button>
  <h2><a href="/item/1" class="title">Interesting article</a></h2>
</div>
<div class="post">
  <button class="upvote" aria-label="upvote">▲</button>
  <h2><a href="/item/2" class="title">Another article</a></h2>
</div>
</body></html>`

const quizPageHTML = `<html><body><form>
<fieldset class="question"><legend>Q1</legend>
  <input type="radio" name="q1" value="a"><input type="radio" name="q1" value="b">
  <input type="radio" name="q1" value="c">
</fieldset>
<fieldset class="question"><legend>Q2</legend>
  <input type="checkbox" name="q2" value="a"><input type="checkbox" name="q2" value="b">
  <input type="checkbox" name="q2" value="c">
</fieldset>
<button type="submit">Submit answers</button>
</form></body></html>`

const tablePageHTML = `<html><body>
<table>
  <tr><th>Name</th><th>Size</th></tr>
  <tr><td><a href="/a">alpha</a></td><td>1</td></tr>
  <tr><td><a href="/b">beta</a></td><td>2</td></tr>
</table>
</body></html>`

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		markup string
		want   schemas.SiteCategory
	}{
		{"forum", forumPageHTML, schemas.SiteForum},
		{"quiz", quizPageHTML, schemas.SiteQuiz},
		{"form", formPageHTML, schemas.SiteForm},
		{"table", tablePageHTML, schemas.SiteTable},
		{"generic", `<html><body><p>Just text.</p></body></html>`, schemas.SiteGeneric},
		{"empty", ``, schemas.SiteGeneric},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			root, err := htmlquery.Parse(strings.NewReader(tc.markup))
			require.NoError(t, err)
			assert.Equal(t, tc.want, Classify(root))
		})
	}

	t.Run("nil root is generic", func(t *testing.T) {
		assert.Equal(t, schemas.SiteGeneric, Classify(nil))
	})
}

func TestClassify_QuizBeatsForm(t *testing.T) {
	// A question sheet lives inside a <form>; the denser signal wins.
	root, err := htmlquery.Parse(strings.NewReader(quizPageHTML))
	require.NoError(t, err)
	assert.Equal(t, schemas.SiteQuiz, Classify(root))
}

func TestCollectExtras_Forum(t *testing.T) {
	page := &fakePage{url: "u", title: "t", markup: forumPageHTML}
	capturer := NewCapturer(page, 60, zaptest.NewLogger(t))

	doc, err := capturer.Capture(context.Background())
	require.NoError(t, err)

	require.Equal(t, schemas.SiteForum, doc.Page.Category)
	require.NotNil(t, doc.Page.Extras)
	assert.Len(t, doc.Page.Extras["vote_buttons"], 2)
	assert.Len(t, doc.Page.Extras["post_titles"], 2)
}

func TestCollectExtras_Quiz(t *testing.T) {
	page := &fakePage{url: "u", title: "t", markup: quizPageHTML}
	capturer := NewCapturer(page, 60, zaptest.NewLogger(t))

	doc, err := capturer.Capture(context.Background())
	require.NoError(t, err)

	require.Equal(t, schemas.SiteQuiz, doc.Page.Category)
	require.NotNil(t, doc.Page.Extras)
	assert.Len(t, doc.Page.Extras["quiz_options"], 6)
	assert.Len(t, doc.Page.Extras["question_blocks"], 2)
}

func TestCollectExtras_GenericHasNone(t *testing.T) {
	page := &fakePage{url: "u", title: "t", markup: `<html><body><p>hi</p></body></html>`}
	capturer := NewCapturer(page, 60, zaptest.NewLogger(t))

	doc, err := capturer.Capture(context.Background())
	require.NoError(t, err)
	assert.Nil(t, doc.Page.Extras)
}
