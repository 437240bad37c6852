// browser/resolver/patterns.go
package resolver

import (
	"strings"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
	"github.com/dkastrov/taskpilot-cli/internal/browser/snapshot"
)

// patternRule maps hint keywords to a structural query. Rules with a
// category list apply only to snapshots of that category; the rest apply
// everywhere. Extending the engine with a new site type means adding rows
// here, never touching the strategy chain.
type patternRule struct {
	keywords   []string
	xpath      string
	categories []schemas.SiteCategory
}

var patternRules = []patternRule{
	// Forum specializations. An upvote control is a clickable with a vote
	// affordance sitting inside a post-shaped container.
	{
		keywords: []string{"upvote", "vote", "like"},
		xpath: `//*[contains(@class,'post') or contains(@class,'thread') or contains(@class,'entry')]
			//*[self::button or self::a or @role='button' or self::span or self::div]
			[contains(@class,'vote') or contains(@class,'upvote') or contains(@aria-label,'vote') or contains(@title,'vote')]`,
		categories: []schemas.SiteCategory{schemas.SiteForum},
	},
	{
		keywords:   []string{"post", "title", "headline", "article"},
		xpath:      `//h1/a | //h2/a | //h3/a | //a[contains(@class,'title')]`,
		categories: []schemas.SiteCategory{schemas.SiteForum},
	},
	// Quiz specializations.
	{
		keywords:   []string{"question", "answer", "option", "choice"},
		xpath:      `//input[@type='radio' or @type='checkbox']`,
		categories: []schemas.SiteCategory{schemas.SiteQuiz},
	},
	// General affordances, any category.
	{
		keywords: []string{"submit", "send", "save", "confirm", "apply"},
		xpath:    `//button[@type='submit'] | //input[@type='submit'] | //form//button[not(@type) or @type='submit']`,
	},
	{
		keywords: []string{"search", "find", "query"},
		xpath:    `//input[@type='search'] | //input[contains(@name,'search') or contains(@id,'search') or contains(@placeholder,'earch')]`,
	},
	{
		keywords: []string{"login", "log in", "sign in", "signin"},
		xpath: `//button[contains(translate(., 'LOGSIN', 'logsin'),'log in') or contains(translate(., 'LOGSIN', 'logsin'),'login') or contains(translate(., 'LOGSIN', 'logsin'),'sign in')] |
			//a[contains(translate(., 'LOGSIN', 'logsin'),'log in') or contains(translate(., 'LOGSIN', 'logsin'),'login') or contains(translate(., 'LOGSIN', 'logsin'),'sign in')] |
			//input[@type='submit'][contains(translate(@value,'LOGSIN','logsin'),'log')]`,
	},
	{
		keywords: []string{"comment", "reply"},
		xpath:    `//textarea[contains(@name,'comment') or contains(@id,'comment') or contains(@placeholder,'omment')] | //a[contains(@class,'comment')] | //button[contains(@class,'comment')]`,
	},
	{
		keywords: []string{"next", "continue", "forward"},
		xpath: `//button[contains(translate(., 'NEXTCOIU', 'nextcoiu'),'next') or contains(translate(., 'NEXTCOIU', 'nextcoiu'),'continue')] |
			//a[@rel='next' or contains(@class,'next')]`,
	},
	{
		keywords: []string{"button", "click"},
		xpath:    `//button | //input[@type='button' or @type='submit'] | //*[@role='button']`,
	},
	{
		keywords: []string{"link"},
		xpath:    `//a[@href]`,
	},
	{
		keywords: []string{"field", "input", "text box", "textbox"},
		xpath:    `//input[not(@type) or @type='text' or @type='email' or @type='password' or @type='search'] | //textarea`,
	},
	{
		keywords: []string{"dropdown", "select", "list"},
		xpath:    `//select`,
	},
	{
		keywords: []string{"checkbox"},
		xpath:    `//input[@type='checkbox']`,
	},
	{
		keywords: []string{"radio"},
		xpath:    `//input[@type='radio']`,
	},
}

// -- Strategy 3: semantic pattern --

// byPattern matches hint keywords against the static rule table, applying
// category-specific rules before the general ones.
func (r *Resolver) byPattern(loc schemas.Locator, doc *snapshot.Document) []schemas.ElementDescriptor {
	needle := strings.ToLower(strings.TrimSpace(loc.Hint))
	if needle == "" {
		needle = strings.ToLower(strings.TrimSpace(loc.Text))
	}
	if needle == "" {
		return nil
	}

	category := doc.Page.Category
	for _, rule := range patternRules {
		if !rule.appliesTo(category) {
			continue
		}
		if !rule.matches(needle) {
			continue
		}
		nodes, err := doc.Query(rule.xpath)
		if err != nil || len(nodes) == 0 {
			continue
		}
		return describeAll(nodes, doc.Page.Epoch)
	}
	return nil
}

func (p *patternRule) appliesTo(category schemas.SiteCategory) bool {
	if len(p.categories) == 0 {
		return true
	}
	for _, c := range p.categories {
		if c == category {
			return true
		}
	}
	return false
}

func (p *patternRule) matches(needle string) bool {
	for _, kw := range p.keywords {
		if strings.Contains(needle, kw) {
			return true
		}
	}
	return false
}
