// browser/snapshot/classify.go
package snapshot

import (
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
)

// Structural signals per category. Checked most-specific first; the first
// matching category wins, so a quiz rendered inside a <form> still
// classifies as quiz.
const (
	voteSignalXPath = `//*[contains(@class,'vote') or contains(@class,'upvote') or
		contains(@aria-label,'vote') or contains(@aria-label,'upvote') or
		contains(@title,'upvote')]`
	postSignalXPath = `//*[contains(@class,'post') or contains(@class,'thread') or
		contains(@class,'comment') or contains(@class,'entry')]`

	choiceInputXPath = `//input[@type='radio' or @type='checkbox']`

	tableRowXPath = `//table//tr`
)

// quizChoiceThreshold is the radio/checkbox density that marks a page as a
// question sheet rather than an ordinary form.
const quizChoiceThreshold = 6

// Classify buckets a parsed page into a site category from structural
// signals alone. It is total: anything unrecognized is generic.
func Classify(root *html.Node) schemas.SiteCategory {
	if root == nil {
		return schemas.SiteGeneric
	}

	// Forum: vote affordances alongside post-shaped containers.
	if len(htmlquery.Find(root, voteSignalXPath)) > 0 &&
		len(htmlquery.Find(root, postSignalXPath)) > 0 {
		return schemas.SiteForum
	}

	// Quiz: a dense field of binary choice inputs.
	if len(htmlquery.Find(root, choiceInputXPath)) >= quizChoiceThreshold {
		return schemas.SiteQuiz
	}

	// Form: any form that actually carries fields.
	for _, form := range htmlquery.Find(root, formsXPath) {
		if len(htmlquery.Find(form, `.//input | .//textarea | .//select`)) > 0 {
			return schemas.SiteForm
		}
	}

	// Table: tabular data with more than a header row.
	if len(htmlquery.Find(root, tableRowXPath)) >= 3 {
		return schemas.SiteTable
	}

	return schemas.SiteGeneric
}

// extraRule is one named, category-specific collection. Adding a site
// category means adding rows here; the resolver chain itself never changes.
type extraRule struct {
	name  string
	xpath string
}

var extraRules = map[schemas.SiteCategory][]extraRule{
	schemas.SiteForum: {
		{name: "vote_buttons", xpath: voteSignalXPath + `[self::button or self::a or @role='button' or self::span or self::div]`},
		{name: "post_titles", xpath: `//h1/a | //h2/a | //h3/a | //a[contains(@class,'title')]`},
	},
	schemas.SiteQuiz: {
		{name: "quiz_options", xpath: choiceInputXPath},
		{name: "question_blocks", xpath: `//fieldset | //*[contains(@class,'question')]`},
	},
	schemas.SiteForm: {
		{name: "submit_controls", xpath: `//form//button | //form//input[@type='submit']`},
	},
	schemas.SiteTable: {
		{name: "header_cells", xpath: `//table//th`},
		{name: "row_links", xpath: `//table//a[@href]`},
	},
}

// collectExtras fills the category-specific collections from the rule table.
func (c *Capturer) collectExtras(root *html.Node, category schemas.SiteCategory, epoch uint64) map[string][]schemas.ElementDescriptor {
	rules := extraRules[category]
	if len(rules) == 0 {
		return nil
	}

	extras := make(map[string][]schemas.ElementDescriptor, len(rules))
	for _, rule := range rules {
		descs := c.collect(root, rule.xpath, epoch)
		if len(descs) == 0 {
			continue
		}
		extras[rule.name] = descs
	}
	if len(extras) == 0 {
		return nil
	}
	return extras
}
