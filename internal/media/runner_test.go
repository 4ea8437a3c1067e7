package media

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunner_CapturesStdout(t *testing.T) {
	r := newRunner(time.Minute)
	out, err := r.run(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("stdout = %q, want hello", out)
	}
}

func TestRunner_StderrFoldedIntoError(t *testing.T) {
	r := newRunner(time.Minute)
	_, err := r.run(context.Background(), "sh", "-c", "echo broken pipe somewhere >&2; exit 3")
	if err == nil {
		t.Fatal("failing command returned no error")
	}
	if !strings.Contains(err.Error(), "broken pipe somewhere") {
		t.Errorf("error %q does not carry the command's stderr", err)
	}
}

func TestRunner_DefaultTimeout(t *testing.T) {
	r := newRunner(100 * time.Millisecond)
	start := time.Now()
	_, err := r.run(context.Background(), "sleep", "10")
	if err == nil {
		t.Fatal("long command survived the timeout")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("error %q does not mention the timeout", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
}

func TestRunner_CallerDeadlineWins(t *testing.T) {
	// A deadline on the caller's context takes precedence over the default.
	r := newRunner(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := r.run(ctx, "sleep", "10")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want DeadlineExceeded", err)
	}
}

func TestRunner_Cancellation(t *testing.T) {
	r := newRunner(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := r.run(ctx, "sleep", "10")
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("canceled command never returned")
	}
}

func TestRunner_MissingBinary(t *testing.T) {
	r := newRunner(time.Minute)
	if _, err := r.run(context.Background(), "definitely-not-a-real-binary-12345"); err == nil {
		t.Error("running a nonexistent binary succeeded")
	}
}

func TestRunner_ZeroTimeoutFallsBack(t *testing.T) {
	r := newRunner(0)
	if r.defaultTimeout != 5*time.Minute {
		t.Errorf("defaultTimeout = %v, want the 5m fallback", r.defaultTimeout)
	}
}

func TestTail(t *testing.T) {
	tests := []struct {
		name string
		s    string
		n    int
		want string
	}{
		{name: "short string unchanged", s: "hello", n: 10, want: "hello"},
		{name: "exact length unchanged", s: "hello", n: 5, want: "hello"},
		{name: "long string truncated", s: "aaaaabbbbb", n: 5, want: "...bbbbb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tail(tt.s, tt.n); got != tt.want {
				t.Errorf("tail(%q, %d) = %q, want %q", tt.s, tt.n, got, tt.want)
			}
		})
	}
}

func TestCheckBinary(t *testing.T) {
	if err := CheckBinary("sh"); err != nil {
		t.Errorf("CheckBinary(sh) = %v", err)
	}
	if err := CheckBinary("definitely-not-a-real-binary-12345"); err == nil {
		t.Error("CheckBinary accepted a nonexistent binary")
	}
}
