// internal/browser/page.go
// Page primitives: everything the task engine does to the live tab goes
// through these methods. Selectors are XPath throughout.
package browser

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
	"github.com/dkastrov/taskpilot-cli/internal/browser/executor"
	"github.com/dkastrov/taskpilot-cli/internal/browser/monitor"
	"github.com/dkastrov/taskpilot-cli/internal/browser/resolver"
	"github.com/dkastrov/taskpilot-cli/internal/browser/snapshot"
)

// The session is the single live implementation of every page-facing
// interface in the engine.
var (
	_ executor.Page       = (*Session)(nil)
	_ resolver.Prober     = (*Session)(nil)
	_ snapshot.PageReader = (*Session)(nil)
	_ monitor.Probe       = (*Session)(nil)
)

// probeJS reads the live state of the first element matching an XPath. The
// shape mirrors schemas.ElementState so the result unmarshals directly.
const probeJS = `(() => {
	const el = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) { return { exists: false }; }
	const rect = el.getBoundingClientRect();
	const style = window.getComputedStyle(el);
	const visible = rect.width > 0 && rect.height > 0 &&
		style.display !== 'none' && style.visibility !== 'hidden' && style.opacity !== '0';
	const cx = rect.left + rect.width / 2;
	const cy = rect.top + rect.height / 2;
	const inView = cx >= 0 && cy >= 0 && cx <= window.innerWidth && cy <= window.innerHeight;
	let blocked = false;
	if (visible && inView) {
		const top = document.elementFromPoint(cx, cy);
		blocked = !!top && top !== el && !el.contains(top) && !top.contains(el);
	}
	const tag = el.tagName.toLowerCase();
	const type = (el.getAttribute('type') || '').toLowerCase();
	const disabled = !!el.disabled || el.getAttribute('aria-disabled') === 'true';
	const editable = el.isContentEditable || tag === 'textarea' ||
		(tag === 'input' && !['hidden','submit','button','reset','image','checkbox','radio','file'].includes(type));
	const options = [];
	if (tag === 'select') {
		for (const opt of el.options) {
			options.push({ value: opt.value, text: opt.text, selected: opt.selected, disabled: opt.disabled });
		}
	}
	return {
		exists: true,
		visible: visible,
		blocked: blocked,
		disabled: disabled,
		in_view: inView,
		rect: { x: rect.left, y: rect.top, width: rect.width, height: rect.height },
		tag: tag,
		type: type,
		checked: !!el.checked,
		value: typeof el.value === 'string' ? el.value : '',
		editable: editable,
		options: options,
	};
})()`

// ProbeElement returns the live state of the element at xpath. A missing
// element is not an error; it probes as Exists=false.
func (s *Session) ProbeElement(ctx context.Context, xpath string) (*schemas.ElementState, error) {
	var state schemas.ElementState
	if err := s.runActions(ctx, chromedp.Evaluate(fmt.Sprintf(probeJS, xpath), &state)); err != nil {
		return nil, fmt.Errorf("probing element: %w", err)
	}
	return &state, nil
}

// ScrollIntoView centers the element in the viewport.
func (s *Session) ScrollIntoView(ctx context.Context, xpath string) error {
	js := fmt.Sprintf(`(() => {
		const el = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!el) { return false; }
		el.scrollIntoView({ block: 'center', inline: 'center' });
		return true;
	})()`, xpath)
	return s.evalExpectingElement(ctx, js, xpath)
}

// FlashOutline paints a short-lived outline on the element so a human
// watching the non-headless session can follow the task.
func (s *Session) FlashOutline(ctx context.Context, xpath string) error {
	js := fmt.Sprintf(`(() => {
		const el = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!el) { return false; }
		const prev = el.style.outline;
		el.style.outline = '2px solid #e8710a';
		setTimeout(() => { el.style.outline = prev; }, 400);
		return true;
	})()`, xpath)
	return s.evalExpectingElement(ctx, js, xpath)
}

// Click dispatches a DOM-level click on the element.
func (s *Session) Click(ctx context.Context, xpath string) error {
	return s.runActions(ctx, chromedp.Click(xpath))
}

// ClickAt synthesizes a raw mouse press/release at viewport coordinates.
func (s *Session) ClickAt(ctx context.Context, x, y float64) error {
	return s.runActions(ctx, chromedp.MouseClickXY(x, y))
}

// SelectByValue picks the option whose value attribute matches.
func (s *Session) SelectByValue(ctx context.Context, xpath, value string) error {
	js := fmt.Sprintf(`(() => {
		const el = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!el || el.tagName.toLowerCase() !== 'select') { return false; }
		el.value = %q;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return el.value === %q;
	})()`, xpath, value, value)
	var ok bool
	if err := s.runActions(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("selecting by value: %w", err)
	}
	if !ok {
		return fmt.Errorf("select at %s did not accept value %q", xpath, value)
	}
	return nil
}

// SelectByText picks the option whose visible text matches, trimmed and
// case insensitive.
func (s *Session) SelectByText(ctx context.Context, xpath, text string) error {
	js := fmt.Sprintf(`(() => {
		const el = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!el || el.tagName.toLowerCase() !== 'select') { return false; }
		const wanted = %q.trim().toLowerCase();
		for (let i = 0; i < el.options.length; i++) {
			if (el.options[i].text.trim().toLowerCase() === wanted) {
				el.selectedIndex = i;
				el.dispatchEvent(new Event('input', { bubbles: true }));
				el.dispatchEvent(new Event('change', { bubbles: true }));
				return true;
			}
		}
		return false;
	})()`, xpath, text)
	var ok bool
	if err := s.runActions(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("selecting by text: %w", err)
	}
	if !ok {
		return fmt.Errorf("select at %s has no option with text %q", xpath, text)
	}
	return nil
}

// SelectByIndex picks the option at the given zero-based position.
func (s *Session) SelectByIndex(ctx context.Context, xpath string, index int) error {
	js := fmt.Sprintf(`(() => {
		const el = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!el || el.tagName.toLowerCase() !== 'select') { return false; }
		if (%d < 0 || %d >= el.options.length) { return false; }
		el.selectedIndex = %d;
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, xpath, index, index, index)
	var ok bool
	if err := s.runActions(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return fmt.Errorf("selecting by index: %w", err)
	}
	if !ok {
		return fmt.Errorf("select at %s has no option at index %d", xpath, index)
	}
	return nil
}

// SetText writes a field through the native value setter and fires
// input+change so framework-bound pages observe the edit. Works for
// inputs, textareas and contenteditable regions.
func (s *Session) SetText(ctx context.Context, xpath, text string, clearFirst bool) error {
	js := fmt.Sprintf(`(() => {
		const el = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!el) { return false; }
		const text = %q;
		const clear = %t;
		el.focus();
		if (el.isContentEditable) {
			el.textContent = clear ? text : el.textContent + text;
		} else {
			const proto = Object.getPrototypeOf(el);
			const desc = Object.getOwnPropertyDescriptor(proto, 'value');
			const next = clear ? text : (el.value || '') + text;
			if (desc && desc.set) { desc.set.call(el, next); } else { el.value = next; }
		}
		el.dispatchEvent(new Event('input', { bubbles: true }));
		el.dispatchEvent(new Event('change', { bubbles: true }));
		return true;
	})()`, xpath, text, clearFirst)
	return s.evalExpectingElement(ctx, js, xpath)
}

// Scroll moves the element into view (xpath set) or pages the window in
// the given direction: up, down, top or bottom.
func (s *Session) Scroll(ctx context.Context, xpath, direction string) error {
	if xpath != "" {
		return s.ScrollIntoView(ctx, xpath)
	}

	var js string
	switch direction {
	case "up":
		js = `window.scrollBy({ top: -window.innerHeight * 0.8, behavior: 'instant' })`
	case "top":
		js = `window.scrollTo({ top: 0, behavior: 'instant' })`
	case "bottom":
		js = `window.scrollTo({ top: document.body.scrollHeight, behavior: 'instant' })`
	default: // down
		js = `window.scrollBy({ top: window.innerHeight * 0.8, behavior: 'instant' })`
	}
	return s.runActions(ctx, chromedp.Evaluate(js, nil))
}

// Navigate loads a URL and waits for the document body, bounded by the
// configured navigation timeout.
func (s *Session) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()

	if err := s.run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

// Extract reads one facet of the element: visible text, outer markup, the
// form value or a named attribute.
func (s *Session) Extract(ctx context.Context, xpath string, what schemas.ReadWhat, attribute string) (string, error) {
	var expr string
	switch what {
	case schemas.ReadMarkup:
		expr = `el.outerHTML`
	case schemas.ReadValue:
		expr = `typeof el.value === 'string' ? el.value : ''`
	case schemas.ReadAttribute:
		expr = fmt.Sprintf(`el.getAttribute(%q) || ''`, attribute)
	default: // text
		expr = `el.innerText`
	}

	js := fmt.Sprintf(`(() => {
		const el = document.evaluate(%q, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
		if (!el) { return null; }
		return %s;
	})()`, xpath, expr)

	var value *string
	if err := s.runActions(ctx, chromedp.Evaluate(js, &value)); err != nil {
		return "", fmt.Errorf("extracting %s: %w", what, err)
	}
	if value == nil {
		return "", fmt.Errorf("element not found at %s", xpath)
	}
	return *value, nil
}

// -- snapshot.PageReader --

// Location returns the tab's current URL.
func (s *Session) Location(ctx context.Context) (string, error) {
	var url string
	if err := s.runActions(ctx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return url, nil
}

// PageTitle returns the current document title.
func (s *Session) PageTitle(ctx context.Context) (string, error) {
	var title string
	if err := s.runActions(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("reading title: %w", err)
	}
	return title, nil
}

// OuterHTML serializes the full document for offline parsing.
func (s *Session) OuterHTML(ctx context.Context) (string, error) {
	var markup string
	if err := s.runActions(ctx, chromedp.OuterHTML("html", &markup, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading document markup: %w", err)
	}
	return markup, nil
}

// -- monitor.Probe --

const mutationCounterJS = `(() => {
	if (window.__tp_mutations !== undefined) { return true; }
	window.__tp_mutations = 0;
	const observer = new MutationObserver((records) => {
		window.__tp_mutations += records.length;
	});
	observer.observe(document.documentElement, {
		childList: true, subtree: true, attributes: true, characterData: true,
	});
	return true;
})()`

// InstallMutationCounter injects the page-side MutationObserver feeding
// MutationDelta. Reinstalling on an already-counted page is a no-op.
func (s *Session) InstallMutationCounter(ctx context.Context) error {
	if err := s.runActions(ctx, chromedp.Evaluate(mutationCounterJS, nil)); err != nil {
		return fmt.Errorf("installing mutation counter: %w", err)
	}
	return nil
}

// MutationDelta reads and resets the mutation count. A page without the
// counter (after navigation) reports zero and reinstalls lazily.
func (s *Session) MutationDelta(ctx context.Context) (int, error) {
	js := `(() => {
		if (window.__tp_mutations === undefined) { return -1; }
		const n = window.__tp_mutations;
		window.__tp_mutations = 0;
		return n;
	})()`
	var delta int
	if err := s.runActions(ctx, chromedp.Evaluate(js, &delta)); err != nil {
		return 0, fmt.Errorf("reading mutation counter: %w", err)
	}
	if delta < 0 {
		// Navigation wiped the counter. Reinstall and report no burst.
		return 0, s.InstallMutationCounter(ctx)
	}
	return delta, nil
}

// evalExpectingElement runs a boolean-returning snippet whose false result
// means the target element no longer exists.
func (s *Session) evalExpectingElement(ctx context.Context, js, xpath string) error {
	var ok bool
	if err := s.runActions(ctx, chromedp.Evaluate(js, &ok)); err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("element not found at %s", xpath)
	}
	return nil
}
