package errs

import (
	"errors"
	"testing"
)

func TestE_ErrorIncludesKindOpAndCause(t *testing.T) {
	e := New(KindCache, "write_tick", errors.New("boom"))
	want := "CacheError: write_tick: boom"
	if e.Error() != want {
		t.Fatalf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestE_ErrorWithNilCauseOmitsTrailer(t *testing.T) {
	e := New(KindConfig, "missing_account_ids", nil)
	want := "ConfigError: missing_account_ids"
	if e.Error() != want {
		t.Fatalf("Error() = %q, want %q", e.Error(), want)
	}
}

func TestIs_MatchesWrappedKind(t *testing.T) {
	e := New(KindUpstreamNetwork, "connect", errors.New("dial failed"))
	if !Is(e, KindUpstreamNetwork) {
		t.Fatal("expected Is to match the wrapped kind")
	}
	if Is(e, KindCache) {
		t.Fatal("expected Is to reject a non-matching kind")
	}
}

func TestIs_FalseForPlainError(t *testing.T) {
	if Is(errors.New("plain"), KindCache) {
		t.Fatal("expected Is to return false for an error with no Kind")
	}
}

func TestUnwrap_ExposesCause(t *testing.T) {
	cause := errors.New("root cause")
	e := New(KindHistoryAPI, "intraday", cause)
	if !errors.Is(e, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause through Unwrap")
	}
}
