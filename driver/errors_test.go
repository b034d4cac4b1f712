package driver

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestKindRetriable(t *testing.T) {
	cases := []struct {
		kind      Kind
		retriable bool
	}{
		{KindOverloaded, true},
		{KindServiceUnavailable, true},
		{KindRateLimited, true},
		{KindContextLimit, false},
		{KindResumeFailed, false},
		{KindUnauthorized, false},
		{KindTimeout, false},
		{KindCancelled, false},
	}
	for _, tc := range cases {
		if got := tc.kind.Retriable(); got != tc.retriable {
			t.Errorf("%s.Retriable() = %v, want %v", tc.kind, got, tc.retriable)
		}
	}
}

func TestError_UnwrapAndMessage(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Kind: KindTimeout, Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause via Unwrap")
	}

	withMessage := &Error{Kind: KindTimeout, Message: "ran too long"}
	if withMessage.Error() != "ran too long" {
		t.Fatalf("expected explicit message to win, got %q", withMessage.Error())
	}

	withoutMessage := &Error{Kind: KindTimeout, Cause: cause}
	if withoutMessage.Error() == "" {
		t.Fatal("expected a non-empty fallback message built from kind and cause")
	}
}

func TestClassifyResultMessage(t *testing.T) {
	contextLimit := json.RawMessage(`{"type":"result","is_error":true,"result":"Error: the input is too long for the context window"}`)
	if got := ClassifyResultMessage(contextLimit); got == nil || got.Kind != KindContextLimit {
		t.Fatalf("expected KindContextLimit, got %+v", got)
	}

	ok := json.RawMessage(`{"type":"result","is_error":false,"result":"done"}`)
	if got := ClassifyResultMessage(ok); got != nil {
		t.Fatalf("expected nil for a non-error result, got %+v", got)
	}

	notResult := json.RawMessage(`{"type":"assistant"}`)
	if got := ClassifyResultMessage(notResult); got != nil {
		t.Fatalf("expected nil for a non-result message, got %+v", got)
	}

	unrelatedError := json.RawMessage(`{"type":"result","is_error":true,"result":"network timeout"}`)
	if got := ClassifyResultMessage(unrelatedError); got != nil {
		t.Fatalf("expected nil for an error result with no context-limit substring, got %+v", got)
	}
}
