package transport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLocalRunner_Run(t *testing.T) {
	runner := NewLocalRunner()

	result, err := runner.Run(context.Background(), Command{
		Argv: []string{"sh", "-c", "echo out; echo err >&2"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if strings.TrimSpace(result.Stdout) != "out" {
		t.Errorf("stdout = %q", result.Stdout)
	}
	if strings.TrimSpace(result.Stderr) != "err" {
		t.Errorf("stderr = %q", result.Stderr)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d", result.ExitCode)
	}
}

func TestLocalRunner_NonZeroExitIsNotAnError(t *testing.T) {
	runner := NewLocalRunner()

	result, err := runner.Run(context.Background(), Command{
		Argv: []string{"sh", "-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestLocalRunner_ContextCancellation(t *testing.T) {
	runner := NewLocalRunner()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := runner.Run(ctx, Command{Argv: []string{"sleep", "10"}})
	if err == nil {
		t.Fatal("expected error for cancelled command")
	}
}

func TestLocalRunner_Stdin(t *testing.T) {
	runner := NewLocalRunner()

	result, err := runner.Run(context.Background(), Command{
		Argv:  []string{"cat"},
		Stdin: []byte("piped"),
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Stdout != "piped" {
		t.Errorf("stdout = %q", result.Stdout)
	}
}

func TestLocalRunner_FileRoundTrip(t *testing.T) {
	runner := NewLocalRunner()
	path := filepath.Join(t.TempDir(), "sub", "file.txt")
	content := []byte("hello\n")

	if err := runner.WriteFile(context.Background(), path, content, 0o640); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	got, err := runner.ReadFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content = %q", got)
	}

	info, err := runner.Stat(context.Background(), path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !info.Exists {
		t.Fatal("file should exist")
	}
	if info.Mode.Perm() != 0o640 {
		t.Errorf("mode = %o", info.Mode.Perm())
	}

	sum := sha256.Sum256(content)
	if info.SHA256 != hex.EncodeToString(sum[:]) {
		t.Errorf("digest mismatch: %s", info.SHA256)
	}
	if info.UID != os.Getuid() {
		t.Errorf("uid = %d, want %d", info.UID, os.Getuid())
	}
}

func TestLocalRunner_StatMissingPath(t *testing.T) {
	runner := NewLocalRunner()

	info, err := runner.Stat(context.Background(), filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("Stat of a missing path must not error: %v", err)
	}
	if info.Exists {
		t.Error("missing path reported as existing")
	}
}

func TestLocalRunner_WriteFileUpdatesMode(t *testing.T) {
	runner := NewLocalRunner()
	path := filepath.Join(t.TempDir(), "file")

	if err := runner.WriteFile(context.Background(), path, []byte("a"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if err := runner.WriteFile(context.Background(), path, []byte("b"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	info, err := runner.Stat(context.Background(), path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode.Perm() != 0o644 {
		t.Errorf("mode not updated on overwrite: %o", info.Mode.Perm())
	}
}
