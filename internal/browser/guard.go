package browser

import (
	"context"
	"strings"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// guardBlockMarker prefixes the console message the guard script emits when
// it rewrites a navigation, so the Go side can count blocks.
const guardBlockMarker = "[nav-guard]"

// navigationGuardScript intercepts same-process attempts to open a new
// window or to navigate to a non-web scheme, rewriting the target to a safe
// no-op. The automated sites occasionally carry mailto: or custom-protocol
// links; in a headless run those trigger OS protocol-handler dialogs that
// stall the process indefinitely, so this is a liveness requirement.
const navigationGuardScript = `(() => {
	const marker = ` + "`" + guardBlockMarker + "`" + `;
	const safeScheme = (url) => {
		try {
			const u = new URL(url, window.location.href);
			return ['http:', 'https:', 'data:', 'about:', 'blob:'].includes(u.protocol);
		} catch (e) {
			return true; // relative / unparsable targets stay in-page
		}
	};

	const origOpen = window.open;
	window.open = function (url, ...rest) {
		console.warn(marker, 'window.open rewritten', String(url));
		if (url && safeScheme(url)) {
			// keep same-tab, never a new window
			window.location.href = url;
		}
		return null;
	};

	document.addEventListener('click', (ev) => {
		const a = ev.target && ev.target.closest ? ev.target.closest('a') : null;
		if (!a || !a.href) return;
		if (!safeScheme(a.href)) {
			ev.preventDefault();
			ev.stopImmediatePropagation();
			console.warn(marker, 'unsafe scheme blocked', a.href);
			a.href = 'javascript:void(0)';
		} else if (a.target === '_blank') {
			a.target = '_self';
		}
	}, true);
})();`

// installNavigationGuard registers the guard to run before any document in
// the page, including frames created later.
func installNavigationGuard() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(navigationGuardScript).Do(ctx)
		return err
	})
}

// isGuardBlockEvent reports whether a console event came from the guard.
func isGuardBlockEvent(e *runtime.EventConsoleAPICalled) bool {
	if e.Type != runtime.APITypeWarning || len(e.Args) == 0 {
		return false
	}
	raw := string(e.Args[0].Value)
	return strings.Contains(raw, guardBlockMarker)
}
