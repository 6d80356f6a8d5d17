package engine

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func paramsNode(t *testing.T, src string) *yaml.Node {
	t.Helper()
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(src), &node); err != nil {
		t.Fatalf("failed to parse params: %v", err)
	}
	// Unwrap the document node.
	return node.Content[0]
}

func TestBuildPlan_Basic(t *testing.T) {
	tasks := []TaskSpec{
		{
			Name:   "install nginx",
			Module: ModulePackage,
			Params: paramsNode(t, "name: nginx\nstate: present"),
			Notify: []string{"restart nginx"},
		},
	}
	handlers := []HandlerSpec{
		{
			Name:   "restart nginx",
			Module: ModuleService,
			Params: paramsNode(t, "name: nginx\nstate: restarted"),
		},
	}

	plan, err := BuildPlan(tasks, handlers)
	if err != nil {
		t.Fatalf("BuildPlan failed: %v", err)
	}
	if len(plan.Tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(plan.Tasks))
	}

	params, ok := plan.Tasks[0].Params.(*PackageParams)
	if !ok {
		t.Fatalf("expected PackageParams, got %T", plan.Tasks[0].Params)
	}
	if params.Name != "nginx" {
		t.Errorf("unexpected package name %q", params.Name)
	}
	if _, ok := plan.Handlers["restart nginx"]; !ok {
		t.Error("handler not indexed")
	}
}

func TestBuildPlan_UnknownNotifyTarget(t *testing.T) {
	tasks := []TaskSpec{
		{
			Name:   "write config",
			Module: ModuleFile,
			Params: paramsNode(t, "dest: /etc/app.conf\ncontent: hello"),
			Notify: []string{"no such handler"},
		},
	}

	_, err := BuildPlan(tasks, nil)
	if err == nil {
		t.Fatal("expected error for unknown notify target")
	}
	if !IsPlanError(err) {
		t.Errorf("expected a plan error, got %T: %v", err, err)
	}
}

func TestBuildPlan_HandlerCycle(t *testing.T) {
	handlers := []HandlerSpec{
		{Name: "a", Module: ModuleService, Params: paramsNode(t, "name: a\nstate: restarted"), Notify: []string{"b"}},
		{Name: "b", Module: ModuleService, Params: paramsNode(t, "name: b\nstate: restarted"), Notify: []string{"a"}},
	}

	_, err := BuildPlan(nil, handlers)
	if err == nil {
		t.Fatal("expected cycle error")
	}
	if !IsPlanError(err) {
		t.Errorf("expected a plan error, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "cycle") {
		t.Errorf("error should mention the cycle, got %v", err)
	}
}

func TestBuildPlan_HandlerChainAllowed(t *testing.T) {
	handlers := []HandlerSpec{
		{Name: "a", Module: ModuleService, Params: paramsNode(t, "name: a\nstate: restarted"), Notify: []string{"b"}},
		{Name: "b", Module: ModuleService, Params: paramsNode(t, "name: b\nstate: restarted")},
	}

	if _, err := BuildPlan(nil, handlers); err != nil {
		t.Fatalf("acyclic handler chain must be allowed: %v", err)
	}
}

func TestBuildPlan_DuplicateHandler(t *testing.T) {
	handlers := []HandlerSpec{
		{Name: "h", Module: ModuleService, Params: paramsNode(t, "name: x\nstate: restarted")},
		{Name: "h", Module: ModuleService, Params: paramsNode(t, "name: y\nstate: restarted")},
	}

	if _, err := BuildPlan(nil, handlers); err == nil {
		t.Fatal("expected duplicate handler error")
	}
}

func TestDecodeParams_UnknownField(t *testing.T) {
	_, err := DecodeParams(ModulePackage, paramsNode(t, "name: git\nbogus: true"))
	if err == nil {
		t.Fatal("expected error for unknown parameter field")
	}
}

func TestDecodeParams_MissingRequired(t *testing.T) {
	_, err := DecodeParams(ModulePackage, paramsNode(t, "state: present"))
	if err == nil {
		t.Fatal("expected error for missing package name")
	}
}

func TestDecodeParams_InvalidState(t *testing.T) {
	_, err := DecodeParams(ModulePackage, paramsNode(t, "name: git\nstate: sideways"))
	if err == nil {
		t.Fatal("expected error for invalid state")
	}
}

func TestDecodeParams_CommandExclusivity(t *testing.T) {
	if _, err := DecodeParams(ModuleCommand, paramsNode(t, "cmd: ls -l\nargv: [ls, -l]")); err == nil {
		t.Fatal("cmd and argv together must be rejected")
	}
	if _, err := DecodeParams(ModuleCommand, paramsNode(t, "chdir: /tmp")); err == nil {
		t.Fatal("a command without cmd or argv must be rejected")
	}
	if _, err := DecodeParams(ModuleCommand, paramsNode(t, "cmd: ls -l")); err != nil {
		t.Fatalf("valid command rejected: %v", err)
	}
}

func TestDecodeParams_FirewallOrderCheckedAtPlanTime(t *testing.T) {
	src := `
rules:
  - action: DROP
  - protocol: tcp
    port: 22
    action: ACCEPT
`
	_, err := DecodeParams(ModuleFirewall, paramsNode(t, src))
	if err == nil {
		t.Fatal("expected ordering violation at plan time")
	}
	if !IsRuleOrderError(err) {
		t.Errorf("expected a rule order error, got %T: %v", err, err)
	}
}

func TestDecodeParams_FirewallOrderNormalizesChains(t *testing.T) {
	// The drop names no chain (defaults to INPUT); the overlapping accept
	// names INPUT explicitly. The mismatch must not hide the violation.
	src := `
rules:
  - protocol: tcp
    port: 22
    action: DROP
  - chain: INPUT
    protocol: tcp
    port: 22
    action: ACCEPT
`
	_, err := DecodeParams(ModuleFirewall, paramsNode(t, src))
	if err == nil {
		t.Fatal("expected ordering violation across default and explicit chain")
	}
	if !IsRuleOrderError(err) {
		t.Errorf("expected a rule order error, got %T: %v", err, err)
	}
}

func TestDecodeParams_UnknownModule(t *testing.T) {
	if _, err := DecodeParams(ModuleType("registry"), nil); err == nil {
		t.Fatal("expected error for unknown module type")
	}
}
