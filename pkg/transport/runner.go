// Package transport abstracts command execution and file access on the
// target host. The engine reconciles a remote host over SSH exactly the way
// it reconciles localhost: every probe and mutation goes through a Runner.
package transport

import (
	"context"
	"io/fs"
)

// Command describes one command invocation on the target.
type Command struct {
	// Argv is the argument vector; Argv[0] is the executable.
	Argv []string

	// Stdin is piped to the process, if non-nil.
	Stdin []byte

	// Dir is the working directory; empty means the runner default.
	Dir string

	// Env holds extra environment variables as KEY=VALUE pairs.
	Env []string
}

// Result is the outcome of a completed command. A non-zero exit code is not
// an error at this layer; callers decide what an exit code means.
type Result struct {
	// Stdout is the captured standard output.
	Stdout string

	// Stderr is the captured standard error.
	Stderr string

	// ExitCode is the process exit code.
	ExitCode int
}

// FileInfo describes a file on the target as seen by Stat.
type FileInfo struct {
	// Exists reports whether the path exists.
	Exists bool

	// Size is the file size in bytes.
	Size int64

	// Mode is the permission bits.
	Mode fs.FileMode

	// UID and GID are the numeric owner and group.
	UID int
	GID int

	// Owner and Group are the resolved names, when resolvable.
	Owner string
	Group string

	// SHA256 is the hex content digest for regular files.
	SHA256 string
}

// Runner executes commands and accesses files on one target host.
// Implementations must be safe for sequential reuse across a run; hostplane
// never issues concurrent calls against a single Runner.
type Runner interface {
	// Name identifies the target, e.g. "local" or "ssh:host".
	Name() string

	// Run executes the command and waits for completion. The returned
	// error is non-nil only when the command could not be executed at
	// all; command failure is reported through Result.ExitCode.
	Run(ctx context.Context, cmd Command) (*Result, error)

	// ReadFile returns the file content.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile writes data to path with the given mode, creating parent
	// directories as needed.
	WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error

	// Stat returns file metadata. A missing path is not an error; it is
	// reported as FileInfo{Exists: false}.
	Stat(ctx context.Context, path string) (*FileInfo, error)

	// Close releases the underlying connection, if any.
	Close() error
}
