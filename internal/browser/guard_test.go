package browser

import (
	"strings"
	"testing"

	"github.com/chromedp/cdproto/runtime"
)

func TestGuardScriptCoversEveryEscapeHatch(t *testing.T) {
	// The script is injected verbatim; if a hook disappears the portals can
	// open OS protocol-handler dialogs that stall a headless run.
	for _, want := range []string{
		"window.open",
		"_blank",
		"_self",
		"preventDefault",
		guardBlockMarker,
	} {
		if !strings.Contains(navigationGuardScript, want) {
			t.Errorf("guard script lost the %q hook", want)
		}
	}
	for _, scheme := range []string{"'http:'", "'https:'", "'data:'", "'about:'", "'blob:'"} {
		if !strings.Contains(navigationGuardScript, scheme) {
			t.Errorf("guard script allowlist lost %s", scheme)
		}
	}
}

func TestIsGuardBlockEvent(t *testing.T) {
	marked := &runtime.EventConsoleAPICalled{
		Type: runtime.APITypeWarning,
		Args: []*runtime.RemoteObject{{Value: []byte(`"` + guardBlockMarker + ` window.open rewritten"`)}},
	}
	if !isGuardBlockEvent(marked) {
		t.Error("guard warning not recognized")
	}

	plainWarning := &runtime.EventConsoleAPICalled{
		Type: runtime.APITypeWarning,
		Args: []*runtime.RemoteObject{{Value: []byte(`"deprecated API"`)}},
	}
	if isGuardBlockEvent(plainWarning) {
		t.Error("unrelated warning counted as a guard block")
	}

	info := &runtime.EventConsoleAPICalled{
		Type: runtime.APITypeLog,
		Args: []*runtime.RemoteObject{{Value: []byte(`"` + guardBlockMarker + `"`)}},
	}
	if isGuardBlockEvent(info) {
		t.Error("non-warning console event counted as a guard block")
	}
}
