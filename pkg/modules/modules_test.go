package modules

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hostplane/hostplane/pkg/engine"
	"github.com/hostplane/hostplane/pkg/probe"
	"github.com/hostplane/hostplane/pkg/transport"
)

// fakeHost scripts command results and an in-memory filesystem for module
// tests.
type fakeHost struct {
	// results maps a command line (joined argv) to its result.
	results map[string]*transport.Result
	files   map[string][]byte
	modes   map[string]fs.FileMode
	ran     []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		results: make(map[string]*transport.Result),
		files:   make(map[string][]byte),
		modes:   make(map[string]fs.FileMode),
	}
}

func (f *fakeHost) Name() string { return "fake" }

func (f *fakeHost) Run(_ context.Context, cmd transport.Command) (*transport.Result, error) {
	line := strings.Join(cmd.Argv, " ")
	f.ran = append(f.ran, line)
	if result, ok := f.results[line]; ok {
		return result, nil
	}
	return &transport.Result{}, nil
}

func (f *fakeHost) ReadFile(_ context.Context, path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("no such file %s", path)
	}
	return data, nil
}

func (f *fakeHost) WriteFile(_ context.Context, path string, data []byte, mode fs.FileMode) error {
	f.files[path] = data
	f.modes[path] = mode
	return nil
}

func (f *fakeHost) Stat(_ context.Context, path string) (*transport.FileInfo, error) {
	data, ok := f.files[path]
	if !ok {
		return &transport.FileInfo{}, nil
	}
	sum := sha256.Sum256(data)
	return &transport.FileInfo{
		Exists: true,
		Size:   int64(len(data)),
		Mode:   f.modes[path],
		SHA256: hex.EncodeToString(sum[:]),
	}, nil
}

func (f *fakeHost) Close() error { return nil }

func (f *fakeHost) ranCommand(prefix string) bool {
	for _, line := range f.ran {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func newTestWriter(host *fakeHost) *fileWriter {
	return &fileWriter{runner: host, prober: probe.New(host)}
}

func TestFileModule_CreatesMissingFile(t *testing.T) {
	host := newFakeHost()
	module := &FileModule{files: newTestWriter(host)}

	result, err := module.Apply(context.Background(), &engine.FileParams{
		Dest:    "/etc/app.conf",
		Content: "hello\n",
		Mode:    "0600",
	}, false)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Changed || result.Action != "created" {
		t.Errorf("unexpected result %+v", result)
	}
	if string(host.files["/etc/app.conf"]) != "hello\n" {
		t.Errorf("content not written: %q", host.files["/etc/app.conf"])
	}
	if host.modes["/etc/app.conf"] != 0o600 {
		t.Errorf("mode = %o", host.modes["/etc/app.conf"])
	}
}

func TestFileModule_IdempotentWhenConverged(t *testing.T) {
	host := newFakeHost()
	host.files["/etc/app.conf"] = []byte("hello\n")
	host.modes["/etc/app.conf"] = 0o600
	module := &FileModule{files: newTestWriter(host)}

	result, err := module.Apply(context.Background(), &engine.FileParams{
		Dest:    "/etc/app.conf",
		Content: "hello\n",
		Mode:    "0600",
	}, false)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if result.Changed {
		t.Errorf("converged file reported as changed: %+v", result)
	}
}

func TestFileModule_CheckModeDiffsWithoutWriting(t *testing.T) {
	host := newFakeHost()
	host.files["/etc/app.conf"] = []byte("old\n")
	module := &FileModule{files: newTestWriter(host)}

	result, err := module.Apply(context.Background(), &engine.FileParams{
		Dest:    "/etc/app.conf",
		Content: "new\n",
	}, true)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Changed {
		t.Error("drifted file must report changed in check mode")
	}
	if !strings.Contains(result.Diff, "-old") || !strings.Contains(result.Diff, "+new") {
		t.Errorf("diff missing content:\n%s", result.Diff)
	}
	if string(host.files["/etc/app.conf"]) != "old\n" {
		t.Error("check mode must not write")
	}
}

func TestTemplateModule_CheckModeRedactsSecretDiff(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "app.conf.tmpl")
	if err := os.WriteFile(src, []byte("password={{secret \"db_password\"}}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	host := newFakeHost()
	host.files["/etc/app.conf"] = []byte("password=stale\n")
	module := &TemplateModule{
		files:        newTestWriter(host),
		srcRoot:      dir,
		secretLookup: func(string) (string, error) { return "hunter2", nil },
	}

	result, err := module.Apply(context.Background(), &engine.TemplateParams{
		Src:  "app.conf.tmpl",
		Dest: "/etc/app.conf",
	}, true)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Changed {
		t.Error("drifted template must report changed in check mode")
	}
	if strings.Contains(result.Diff, "hunter2") {
		t.Errorf("diff leaks resolved secret:\n%s", result.Diff)
	}
	if result.Diff == "" {
		t.Error("withheld diff should still carry a placeholder")
	}
	if string(host.files["/etc/app.conf"]) != "password=stale\n" {
		t.Error("check mode must not write")
	}
}

func TestTemplateModule_CheckModeDiffsPlainTemplates(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "motd.tmpl")
	if err := os.WriteFile(src, []byte("hello {{.Vars.user}}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	host := newFakeHost()
	host.files["/etc/motd"] = []byte("hello nobody\n")
	module := &TemplateModule{
		files:   newTestWriter(host),
		srcRoot: dir,
		vars:    map[string]any{"user": "ops"},
	}

	result, err := module.Apply(context.Background(), &engine.TemplateParams{
		Src:  "motd.tmpl",
		Dest: "/etc/motd",
	}, true)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !strings.Contains(result.Diff, "+hello ops") {
		t.Errorf("secret-free template should keep its real diff:\n%s", result.Diff)
	}
}

func TestCommandModule_CreatesGuardSkips(t *testing.T) {
	host := newFakeHost()
	host.files["/var/done"] = []byte("x")
	module := &CommandModule{runner: host, prober: probe.New(host)}

	result, err := module.Apply(context.Background(), &engine.CommandParams{
		Cmd:     "touch /var/done",
		Creates: "/var/done",
	}, false)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if result.Changed || result.Action != "skipped_creates" {
		t.Errorf("unexpected result %+v", result)
	}
	if host.ranCommand("touch") {
		t.Error("guarded command must not run")
	}
}

func TestCommandModule_UnlessGuardSkips(t *testing.T) {
	host := newFakeHost()
	host.results["sh -c test -f /ok"] = &transport.Result{ExitCode: 0}
	module := &CommandModule{runner: host, prober: probe.New(host)}

	result, err := module.Apply(context.Background(), &engine.CommandParams{
		Argv:   []string{"do-thing"},
		Unless: "test -f /ok",
	}, false)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if result.Changed || result.Action != "skipped_unless" {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestCommandModule_SplitsShellQuotedCmd(t *testing.T) {
	host := newFakeHost()
	module := &CommandModule{runner: host, prober: probe.New(host)}

	result, err := module.Apply(context.Background(), &engine.CommandParams{
		Cmd: `echo "two words"`,
	}, false)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Changed || result.Action != "executed" {
		t.Errorf("unexpected result %+v", result)
	}
	if len(host.ran) != 1 || host.ran[0] != "echo two words" {
		t.Errorf("unexpected argv: %v", host.ran)
	}
}

func TestCommandModule_NonZeroExitFails(t *testing.T) {
	host := newFakeHost()
	host.results["failing"] = &transport.Result{ExitCode: 2, Stderr: "boom"}
	module := &CommandModule{runner: host, prober: probe.New(host)}

	_, err := module.Apply(context.Background(), &engine.CommandParams{
		Argv: []string{"failing"},
	}, false)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error should carry stderr: %v", err)
	}
}

func TestCommandModule_CheckModeDoesNotExecute(t *testing.T) {
	host := newFakeHost()
	module := &CommandModule{runner: host, prober: probe.New(host)}

	result, err := module.Apply(context.Background(), &engine.CommandParams{
		Argv: []string{"do-thing"},
	}, true)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if result.Action != "would_execute" {
		t.Errorf("unexpected result %+v", result)
	}
	if host.ranCommand("do-thing") {
		t.Error("check mode must not execute the command")
	}
}

func TestPackageModule_InstallWhenMissing(t *testing.T) {
	host := newFakeHost()
	host.results["dpkg-query -W -f=${db:Status-Status} ${Version} git"] =
		&transport.Result{ExitCode: 1, Stderr: "dpkg-query: no packages found matching git"}
	module := &PackageModule{runner: host, prober: probe.New(host)}

	result, err := module.Apply(context.Background(), &engine.PackageParams{Name: "git"}, false)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Changed || result.Action != "installed" {
		t.Errorf("unexpected result %+v", result)
	}
	if !host.ranCommand("apt-get install -y git") {
		t.Errorf("install not invoked, ran: %v", host.ran)
	}
}

func TestPackageModule_PresentIsIdempotent(t *testing.T) {
	host := newFakeHost()
	host.results["dpkg-query -W -f=${db:Status-Status} ${Version} git"] =
		&transport.Result{Stdout: "installed 1:2.39.2-1"}
	module := &PackageModule{runner: host, prober: probe.New(host)}

	result, err := module.Apply(context.Background(), &engine.PackageParams{Name: "git"}, false)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if result.Changed {
		t.Errorf("installed package reported as changed: %+v", result)
	}
	if host.ranCommand("apt-get") {
		t.Error("no mutation expected for converged package")
	}
}

func TestServiceModule_StartsInactiveService(t *testing.T) {
	host := newFakeHost()
	host.results["systemctl show nginx --property=ActiveState,UnitFileState,SubState,LoadState"] =
		&transport.Result{Stdout: "ActiveState=inactive\nUnitFileState=enabled\nSubState=dead\nLoadState=loaded\n"}
	module := &ServiceModule{runner: host, prober: probe.New(host)}

	result, err := module.Apply(context.Background(), &engine.ServiceParams{
		Name:  "nginx",
		State: "started",
	}, false)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !result.Changed || result.Action != "started" {
		t.Errorf("unexpected result %+v", result)
	}
	if !host.ranCommand("systemctl start nginx") {
		t.Errorf("start not invoked, ran: %v", host.ran)
	}
}

func TestServiceModule_ActiveServiceIsConverged(t *testing.T) {
	host := newFakeHost()
	host.results["systemctl show nginx --property=ActiveState,UnitFileState,SubState,LoadState"] =
		&transport.Result{Stdout: "ActiveState=active\nUnitFileState=enabled\nSubState=running\nLoadState=loaded\n"}
	module := &ServiceModule{runner: host, prober: probe.New(host)}

	enabled := true
	result, err := module.Apply(context.Background(), &engine.ServiceParams{
		Name:    "nginx",
		State:   "started",
		Enabled: &enabled,
	}, false)
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if result.Changed {
		t.Errorf("converged service reported as changed: %+v", result)
	}
}

func TestFirewallModule_InvalidRulesFileIsBadInput(t *testing.T) {
	dir := t.TempDir()
	// Parses as save format but fails rule validation: a port without a
	// protocol.
	rules := "*filter\n:INPUT ACCEPT [0:0]\n-A INPUT --dport 22 -j ACCEPT\nCOMMIT\n"
	if err := os.WriteFile(filepath.Join(dir, "rules.v4"), []byte(rules), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	host := newFakeHost()
	module := &FirewallModule{runner: host, srcRoot: dir}

	_, err := module.Apply(context.Background(), &engine.FirewallParams{RulesFile: "rules.v4"}, false)
	if err == nil {
		t.Fatal("expected error for invalid rules file")
	}
	if engine.IsProbeError(err) {
		t.Errorf("bad input must not classify as a probe failure: %v", err)
	}
	if len(host.ran) != 0 {
		t.Errorf("nothing should run before the desired set validates, ran: %v", host.ran)
	}
}

func TestRegistry_ResolvesAllModuleTypes(t *testing.T) {
	host := newFakeHost()
	registry := NewRegistry(Options{Runner: host, Prober: probe.New(host)})

	for _, moduleType := range []engine.ModuleType{
		engine.ModulePackage, engine.ModuleFile, engine.ModuleTemplate,
		engine.ModuleService, engine.ModuleCommand, engine.ModuleUnit,
		engine.ModuleFirewall,
	} {
		if _, err := registry.Module(moduleType); err != nil {
			t.Errorf("Module(%s) failed: %v", moduleType, err)
		}
	}

	if _, err := registry.Module(engine.ModuleType("cron")); err == nil {
		t.Error("unknown module type must fail")
	}
}
