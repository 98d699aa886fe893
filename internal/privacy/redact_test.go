package privacy

import (
	"testing"
)

func TestCompile_Valid(t *testing.T) {
	patterns, err := Compile([]string{`(?i)bearer \S+`, `\bsk-[a-z0-9]+\b`})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if len(patterns) != 2 {
		t.Errorf("got %d patterns, want 2", len(patterns))
	}
}

func TestCompile_Invalid(t *testing.T) {
	_, err := Compile([]string{`[invalid`})
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestNew_InvalidPattern(t *testing.T) {
	if _, err := New(nil, []string{`(unclosed`}); err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestApply_Secret(t *testing.T) {
	r, err := New([]string{"s3cret-token"}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := r.Apply(`status 401: {"error":"bad token s3cret-token"}`)
	want := `status 401: {"error":"bad token [REDACTED]"}`
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestApply_SecretsAndPatterns(t *testing.T) {
	r, err := New([]string{"tok123", "", "  "}, []string{`(?i)bearer \S+`})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := r.Apply("tok123 sent, upstream said Bearer abc.def and tok123 again")
	want := "[REDACTED] sent, upstream said [REDACTED] and [REDACTED] again"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestApply_NoMatch(t *testing.T) {
	r, _ := New([]string{"tok123"}, []string{`(?i)password`})
	text := "scraper exited with status 1"
	if got := r.Apply(text); got != text {
		t.Errorf("got %q, want unchanged", got)
	}
}

func TestApply_NilRedactor(t *testing.T) {
	var r *Redactor
	text := "should not change"
	if got := r.Apply(text); got != text {
		t.Errorf("got %q, want unchanged", got)
	}
}
