package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestScopeTaxonomy(t *testing.T) {
	cause := fmt.Errorf("underlying")
	tests := []struct {
		name     string
		err      *PipelineError
		runFatal bool
	}{
		{"authentication is run-fatal", Authentication("portal", cause), true},
		{"fatal navigation is run-fatal", NavigationFatal("patient listing", cause), true},
		{"interrupt is run-fatal", Interrupted(), true},
		{"navigation is item-scoped", Navigation("open visit", cause), false},
		{"timeout is item-scoped", Timeout("open visit", cause), false},
		{"not found is item-scoped", NotFound("patient", "M1234567A"), false},
		{"rejection is item-scoped", Rejected("consultation_fee", "not_numeric"), false},
		{"unsupported payer is item-scoped", Unsupported("UNKNOWN"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRunFatal(tt.err); got != tt.runFatal {
				t.Errorf("IsRunFatal() = %v, want %v", got, tt.runFatal)
			}
		})
	}
}

func TestIsRunFatalOnPlainErrors(t *testing.T) {
	if IsRunFatal(fmt.Errorf("plain")) {
		t.Error("plain error reported run-fatal")
	}
	if IsRunFatal(nil) {
		t.Error("nil error reported run-fatal")
	}
}

func TestUnwrapPreservesSentinels(t *testing.T) {
	cause := fmt.Errorf("session bounced")
	err := Authentication("clinical system", cause)

	if !stderrors.Is(err, ErrAuthentication) {
		t.Error("authentication sentinel lost")
	}
	wrapped := fmt.Errorf("run aborted: %w", err)
	if !stderrors.Is(wrapped, ErrAuthentication) {
		t.Error("sentinel lost through fmt.Errorf wrapping")
	}
	if !stderrors.Is(Interrupted(), ErrInterrupted) {
		t.Error("interrupt sentinel lost")
	}
}

func TestWrapKeepsScope(t *testing.T) {
	inner := NavigationFatal("patient listing", fmt.Errorf("selector never appeared"))
	outer := Wrap(inner, "extraction aborted")
	if !IsRunFatal(outer) {
		t.Error("wrapping dropped the run-fatal scope")
	}

	itemScoped := Wrap(fmt.Errorf("row missing"), "visit lookup")
	if IsRunFatal(itemScoped) {
		t.Error("wrapping a plain error produced a run-fatal one")
	}
}

func TestInterruptedMessage(t *testing.T) {
	if got := Interrupted().Error(); got == "" {
		t.Fatal("empty interrupt message")
	}
}
