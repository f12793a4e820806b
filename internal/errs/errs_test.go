package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindRecoverability(t *testing.T) {
	cases := []struct {
		kind        Kind
		recoverable bool
	}{
		{KindIntegration, true},
		{KindConfiguration, false},
		{KindBusinessLogic, false},
		{KindTransient, true},
		{KindResourceExhausted, true},
		{KindSecurity, false},
		{KindStorage, false},
	}

	for _, c := range cases {
		err := New(c.kind, "boom")
		if err.Recoverable != c.recoverable {
			t.Errorf("%s: recoverable = %v, want %v", c.kind, err.Recoverable, c.recoverable)
		}
		if IsRecoverable(err) != c.recoverable {
			t.Errorf("%s: IsRecoverable mismatch", c.kind)
		}
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindTransient, cause, "save failed")

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	var tagged *Error
	if !errors.As(wrapped, &tagged) {
		t.Fatal("expected errors.As to find the tagged error")
	}
	if tagged.Kind != KindTransient {
		t.Errorf("kind = %s, want %s", tagged.Kind, KindTransient)
	}
}

func TestContextBuilders(t *testing.T) {
	err := New(KindBusinessLogic, "agent already holds a lease").
		WithOp("request_next_task").
		WithProject("p1").
		WithTask("t1").
		WithAgent("a1").
		WithExtra("lease_id", "l1")

	if err.Context.Operation != "request_next_task" {
		t.Errorf("operation = %q", err.Context.Operation)
	}
	if err.Context.ProjectID != "p1" || err.Context.TaskID != "t1" || err.Context.AgentID != "a1" {
		t.Errorf("identity context not set: %+v", err.Context)
	}
	if err.Context.Extra["lease_id"] != "l1" {
		t.Errorf("extra not set: %+v", err.Context.Extra)
	}
}

func TestUntaggedErrorsNotRecoverable(t *testing.T) {
	if IsRecoverable(errors.New("plain")) {
		t.Error("plain errors must not be recoverable")
	}
	if KindOf(errors.New("plain")) != "" {
		t.Error("plain errors have no kind")
	}
}

func TestNotFoundSentinel(t *testing.T) {
	err := fmt.Errorf("retrieve tasks/t1: %w", ErrNotFound)
	if !IsNotFound(err) {
		t.Error("expected wrapped sentinel to be detected")
	}
}
