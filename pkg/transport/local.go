package transport

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"syscall"
)

// LocalRunner executes commands and file operations on the machine hostplane
// itself runs on.
type LocalRunner struct{}

// NewLocalRunner creates a runner for the local host.
func NewLocalRunner() *LocalRunner {
	return &LocalRunner{}
}

// Name implements Runner.
func (r *LocalRunner) Name() string { return "local" }

// Run implements Runner.
func (r *LocalRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if len(cmd.Argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	c := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	if cmd.Dir != "" {
		c.Dir = cmd.Dir
	}
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	result := &Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to execute %s: %w", cmd.Argv[0], err)
	}

	return result, nil
}

// ReadFile implements Runner.
func (r *LocalRunner) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile implements Runner.
func (r *LocalRunner) WriteFile(_ context.Context, path string, data []byte, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, mode); err != nil {
		return err
	}
	// WriteFile only applies mode on create; enforce it on overwrite too.
	return os.Chmod(path, mode)
}

// Stat implements Runner.
func (r *LocalRunner) Stat(_ context.Context, path string) (*FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &FileInfo{Exists: false}, nil
		}
		return nil, err
	}

	info := &FileInfo{
		Exists: true,
		Size:   st.Size(),
		Mode:   st.Mode().Perm(),
	}

	if sys, ok := st.Sys().(*syscall.Stat_t); ok {
		info.UID = int(sys.Uid)
		info.GID = int(sys.Gid)
		if u, err := user.LookupId(strconv.Itoa(info.UID)); err == nil {
			info.Owner = u.Username
		}
		if g, err := user.LookupGroupId(strconv.Itoa(info.GID)); err == nil {
			info.Group = g.Name
		}
	}

	if st.Mode().IsRegular() {
		digest, err := hashFile(path)
		if err != nil {
			return nil, err
		}
		info.SHA256 = digest
	}

	return info, nil
}

// Close implements Runner.
func (r *LocalRunner) Close() error { return nil }

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
