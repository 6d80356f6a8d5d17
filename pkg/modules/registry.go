// Package modules implements the task modules: package, file, template,
// service, command, unit and firewall. Every module follows the same shape:
// probe current state through the transport runner, compare with desired
// state, mutate only when they differ, and report Changed with a short
// action word. In check mode modules stop after the comparison.
package modules

import (
	"fmt"

	"github.com/hostplane/hostplane/pkg/engine"
	"github.com/hostplane/hostplane/pkg/probe"
	"github.com/hostplane/hostplane/pkg/transport"
)

// Options wires the shared collaborators into the module set.
type Options struct {
	// Runner is the transport to the target host.
	Runner transport.Runner

	// Prober inspects current host state.
	Prober *probe.Prober

	// Facts are the probed host facts, exposed to templates.
	Facts map[string]any

	// Vars are the playbook variables, exposed to templates.
	Vars map[string]any

	// SecretLookup resolves a secret key to its plaintext. Nil when no
	// secrets store is configured; templates using secret() then fail.
	SecretLookup func(key string) (string, error)

	// SrcRoot is the base directory for relative file and template
	// sources, normally the playbook's directory.
	SrcRoot string
}

// Registry maps module types to their implementations.
type Registry struct {
	modules map[engine.ModuleType]engine.Module
}

// NewRegistry builds the full module set.
func NewRegistry(opts Options) *Registry {
	files := &fileWriter{runner: opts.Runner, prober: opts.Prober}
	return &Registry{
		modules: map[engine.ModuleType]engine.Module{
			engine.ModulePackage:  &PackageModule{runner: opts.Runner, prober: opts.Prober},
			engine.ModuleFile:     &FileModule{files: files, srcRoot: opts.SrcRoot},
			engine.ModuleTemplate: &TemplateModule{files: files, srcRoot: opts.SrcRoot, facts: opts.Facts, vars: opts.Vars, secretLookup: opts.SecretLookup},
			engine.ModuleService:  &ServiceModule{runner: opts.Runner, prober: opts.Prober},
			engine.ModuleCommand:  &CommandModule{runner: opts.Runner, prober: opts.Prober},
			engine.ModuleUnit:     &UnitModule{runner: opts.Runner, files: files},
			engine.ModuleFirewall: &FirewallModule{runner: opts.Runner, srcRoot: opts.SrcRoot},
		},
	}
}

// Module implements engine.ModuleRegistry.
func (r *Registry) Module(moduleType engine.ModuleType) (engine.Module, error) {
	module, ok := r.modules[moduleType]
	if !ok {
		return nil, fmt.Errorf("no module registered for type %q", moduleType)
	}
	return module, nil
}
