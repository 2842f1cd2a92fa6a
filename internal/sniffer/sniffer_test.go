// internal/sniffer/sniffer_test.go
package sniffer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rumbledeck/rumbledeck/internal/errutil"
)

// fakeCapture writes a shell script that behaves like the capture
// binary: prints some traffic, then idles until terminated.
func fakeCapture(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rumble-sniffer")
	script := "#!/bin/sh\necho one\necho two\nexec sleep 60\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestStart_MissingBinary(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist"))
	err := s.Start()
	if !errors.Is(err, errutil.ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	if s.Running() {
		t.Fatal("sniffer reports running after failed start")
	}
}

func TestLifecycle(t *testing.T) {
	s := New(fakeCapture(t))

	if err := s.Start(); err != nil {
		t.Fatalf("Start err=%v", err)
	}
	if !s.Running() {
		t.Fatal("not running after Start")
	}

	// Second start is a no-op.
	if err := s.Start(); err != nil {
		t.Fatalf("restart err=%v", err)
	}

	var got []string
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 2 && time.Now().Before(deadline) {
		got = append(got, s.Logs()...)
		time.Sleep(10 * time.Millisecond)
	}
	if len(got) < 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("captured lines=%v, want [one two]", got)
	}

	s.Stop()
	if s.Running() {
		t.Fatal("still running after Stop")
	}
	if lines := s.Logs(); lines != nil {
		t.Fatalf("Logs()=%v after stop, want nil", lines)
	}

	// Second stop is a no-op.
	s.Stop()
}

func TestStart_AfterProcessSelfExit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rumble-sniffer")
	script := "#!/bin/sh\necho once\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	s := New(path)

	if err := s.Start(); err != nil {
		t.Fatalf("Start err=%v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for s.Running() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if s.Running() {
		t.Fatal("self-exited process still reports running")
	}

	// A fresh start must replace the dead process, not no-op.
	if err := s.Start(); err != nil {
		t.Fatalf("restart after self-exit err=%v", err)
	}
	var got []string
	deadline = time.Now().Add(2 * time.Second)
	for len(got) < 1 && time.Now().Before(deadline) {
		got = append(got, s.Logs()...)
		time.Sleep(10 * time.Millisecond)
	}
	if len(got) < 1 || got[0] != "once" {
		t.Fatalf("restarted process produced %v, want [once]", got)
	}
	s.Stop()
}
