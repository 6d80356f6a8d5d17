package firewall

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/hostplane/hostplane/pkg/transport"
)

// fakeRunner scripts iptables-save/iptables-restore behavior and records
// written files.
type fakeRunner struct {
	saveOutput  string
	restoreFail bool
	restored    [][]byte
	written     map[string][]byte
}

func (f *fakeRunner) Name() string { return "fake" }

func (f *fakeRunner) Run(_ context.Context, cmd transport.Command) (*transport.Result, error) {
	switch cmd.Argv[0] {
	case "iptables-save":
		return &transport.Result{Stdout: f.saveOutput}, nil
	case "iptables-restore":
		if f.restoreFail {
			return &transport.Result{ExitCode: 2, Stderr: "iptables-restore: line 4 failed"}, nil
		}
		f.restored = append(f.restored, cmd.Stdin)
		return &transport.Result{}, nil
	default:
		return nil, errors.New("unexpected command " + strings.Join(cmd.Argv, " "))
	}
}

func (f *fakeRunner) ReadFile(_ context.Context, path string) ([]byte, error) {
	return f.written[path], nil
}

func (f *fakeRunner) WriteFile(_ context.Context, path string, data []byte, _ fs.FileMode) error {
	if f.written == nil {
		f.written = make(map[string][]byte)
	}
	f.written[path] = data
	return nil
}

func (f *fakeRunner) Stat(_ context.Context, _ string) (*transport.FileInfo, error) {
	return &transport.FileInfo{}, nil
}

func (f *fakeRunner) Close() error { return nil }

func TestReconciler_AppliesAndPersists(t *testing.T) {
	runner := &fakeRunner{}
	r := NewReconciler(runner, "/tmp/rules.v4")

	desired := []Rule{
		{Protocol: "tcp", Port: 22, Action: ActionAccept},
		{Action: ActionReject},
	}

	rs, err := r.Reconcile(context.Background(), desired)
	if err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if len(runner.restored) != 1 {
		t.Fatalf("expected one restore invocation, got %d", len(runner.restored))
	}
	if string(runner.restored[0]) != string(rs.Render()) {
		t.Error("restore input does not match the built ruleset")
	}
	if string(runner.written["/tmp/rules.v4"]) != string(rs.Render()) {
		t.Error("persisted ruleset does not match the applied ruleset")
	}
}

func TestReconciler_FailedApplyPersistsNothing(t *testing.T) {
	runner := &fakeRunner{restoreFail: true}
	r := NewReconciler(runner, "/tmp/rules.v4")

	_, err := r.Reconcile(context.Background(), []Rule{{Action: ActionReject}})
	if err == nil {
		t.Fatal("expected apply error")
	}

	var applyErr *RuleApplyError
	if !errors.As(err, &applyErr) {
		t.Fatalf("expected RuleApplyError, got %T: %v", err, err)
	}
	if applyErr.Stderr == "" {
		t.Error("apply error should carry loader stderr")
	}
	if len(runner.written) != 0 {
		t.Error("nothing must be persisted after a failed apply")
	}
}

func TestReconciler_ProbeParsesLiveState(t *testing.T) {
	runner := &fakeRunner{
		saveOutput: "*filter\n:INPUT ACCEPT [0:0]\n-A INPUT -i lo -j ACCEPT\nCOMMIT\n",
	}
	r := NewReconciler(runner, "")

	rs, err := r.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	if len(rs.Rules) != 1 || rs.Rules[0].InInterface != "lo" {
		t.Errorf("unexpected probed rules: %+v", rs.Rules)
	}
}
