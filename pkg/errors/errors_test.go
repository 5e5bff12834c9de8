package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestHostErrorFormatting(t *testing.T) {
	err := ConfigValidationError("axis x", "steps_per_mm", "must be positive")
	got := err.Error()
	if !strings.Contains(got, "CONFIG_VALIDATION") || !strings.Contains(got, "axis x.steps_per_mm") {
		t.Errorf("unexpected message: %s", got)
	}

	wrapped := Wrap(fmt.Errorf("boom"), ErrDriver, "enable failed").SetSection("driver 3")
	if !strings.HasSuffix(wrapped.Error(), ": boom") {
		t.Errorf("wrapped cause missing: %s", wrapped.Error())
	}
}

func TestIsFollowsWrapChain(t *testing.T) {
	inner := NotFinishedError("ConfigureMovementQueue")
	outer := fmt.Errorf("M595: %w", inner)

	if !Is(outer, ErrNotFinished) {
		t.Error("expected NOT_FINISHED through fmt wrap")
	}
	if Is(outer, ErrQueue) {
		t.Error("unexpected QUEUE match")
	}
	if Is(stderrors.New("plain"), ErrQueue) {
		t.Error("plain errors carry no code")
	}
	if !IsConfig(ConfigValidationError("move", "ring_size", "too small")) {
		t.Error("expected config error")
	}
}

func TestIsSeesNestedCodes(t *testing.T) {
	err := Wrap(NotFinishedError("set drivers"), ErrConfigValidation, "drivers").SetSection("axis x")
	if !Is(err, ErrConfigValidation) || !Is(err, ErrNotFinished) {
		t.Errorf("both codes should match: %v", err)
	}
	if Is(err, ErrDriver) {
		t.Error("unexpected DRIVER match")
	}
}

func TestContext(t *testing.T) {
	err := QueueError(1, "ring full").SetContext("numDdas", 8)
	if err.Section != "ring1" {
		t.Errorf("section = %q", err.Section)
	}
	if err.Context["numDdas"] != 8 {
		t.Errorf("context not stored: %v", err.Context)
	}
}
