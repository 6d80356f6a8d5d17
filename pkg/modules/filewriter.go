package modules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/hostplane/hostplane/pkg/engine"
	"github.com/hostplane/hostplane/pkg/probe"
	"github.com/hostplane/hostplane/pkg/transport"
)

// fileWriter holds the shared probe-compare-write logic behind the file,
// template and unit modules.
type fileWriter struct {
	runner transport.Runner
	prober *probe.Prober
}

// ensure brings the file at dest to the desired content, mode and ownership.
// It reports created/updated/already_present; in check mode it produces a
// unified diff instead of writing.
func (w *fileWriter) ensure(ctx context.Context, dest string, content []byte, mode, owner, group string, check bool) (*engine.TaskResult, error) {
	info, err := w.prober.File(ctx, dest)
	if err != nil {
		return nil, err
	}

	fileMode := fs.FileMode(0o644)
	if mode != "" {
		parsed, err := strconv.ParseUint(mode, 8, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid mode %q: %w", mode, err)
		}
		fileMode = fs.FileMode(parsed)
	}

	wantSum := sha256.Sum256(content)
	contentMatches := info.Exists && info.SHA256 == hex.EncodeToString(wantSum[:])
	modeMatches := mode == "" || !info.Exists || info.Mode&0o7777 == fileMode
	ownerMatches := owner == "" || !info.Exists || info.Owner == owner
	groupMatches := group == "" || !info.Exists || info.Group == group

	if info.Exists && contentMatches && modeMatches && ownerMatches && groupMatches {
		return &engine.TaskResult{Changed: false, Action: "already_present"}, nil
	}

	action := "updated"
	if !info.Exists {
		action = "created"
	}

	if check {
		diff, err := w.diff(ctx, dest, info.Exists && !contentMatches, content)
		if err != nil {
			return nil, err
		}
		return &engine.TaskResult{Changed: true, Action: action, Diff: diff}, nil
	}

	if !info.Exists || !contentMatches || !modeMatches {
		if err := w.runner.WriteFile(ctx, dest, content, fileMode); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", dest, err)
		}
	}
	if !ownerMatches || !groupMatches {
		if err := w.chown(ctx, dest, owner, group); err != nil {
			return nil, err
		}
	}

	return &engine.TaskResult{Changed: true, Action: action}, nil
}

// diff renders a unified diff between the current and desired content. Only
// produced when the content itself differs; metadata-only drift yields no
// diff body.
func (w *fileWriter) diff(ctx context.Context, dest string, contentDiffers bool, want []byte) (string, error) {
	if !contentDiffers {
		return "", nil
	}
	current, err := w.runner.ReadFile(ctx, dest)
	if err != nil {
		return "", fmt.Errorf("failed to read %s for diff: %w", dest, err)
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(current)),
		B:        difflib.SplitLines(string(want)),
		FromFile: dest,
		ToFile:   dest + " (desired)",
		Context:  3,
	})
}

func (w *fileWriter) chown(ctx context.Context, dest, owner, group string) error {
	spec := owner
	if group != "" {
		spec = owner + ":" + group
	}
	result, err := w.runner.Run(ctx, transport.Command{Argv: []string{"chown", spec, dest}})
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("chown %s %s: %s", spec, dest, strings.TrimSpace(result.Stderr))
	}
	return nil
}
