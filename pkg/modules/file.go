package modules

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hostplane/hostplane/pkg/engine"
)

// FileModule manages a file's content, mode and ownership on the target.
type FileModule struct {
	files   *fileWriter
	srcRoot string
}

// Apply implements engine.Module.
func (m *FileModule) Apply(ctx context.Context, params engine.Params, check bool) (*engine.TaskResult, error) {
	p, ok := params.(*engine.FileParams)
	if !ok {
		return nil, fmt.Errorf("unexpected params type %T", params)
	}

	content := []byte(p.Content)
	if p.Src != "" {
		data, err := os.ReadFile(resolveSrc(m.srcRoot, p.Src))
		if err != nil {
			return nil, fmt.Errorf("failed to read source %s: %w", p.Src, err)
		}
		content = data
	}

	return m.files.ensure(ctx, p.Dest, content, p.Mode, p.Owner, p.Group, check)
}

// resolveSrc anchors relative source paths at the playbook directory.
func resolveSrc(root, src string) string {
	if filepath.IsAbs(src) || root == "" {
		return src
	}
	return filepath.Join(root, src)
}
