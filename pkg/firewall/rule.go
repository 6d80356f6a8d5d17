// Package firewall reconciles a desired ordered packet-filter rule set
// against the live kernel ruleset. Rules are modeled on the iptables filter
// table and applied atomically via iptables-restore: the full replacement
// set is built up front and loaded in one operation, so a failed load leaves
// the previously active ruleset untouched.
package firewall

import (
	"fmt"
	"strings"
)

// Action is the verdict of a rule.
type Action string

const (
	// ActionAccept accepts matching traffic.
	ActionAccept Action = "ACCEPT"

	// ActionReject rejects matching traffic with an ICMP response.
	ActionReject Action = "REJECT"

	// ActionDrop silently discards matching traffic.
	ActionDrop Action = "DROP"
)

// IsTerminal reports whether the action ends evaluation for denied traffic.
func (a Action) IsTerminal() bool {
	return a == ActionReject || a == ActionDrop
}

// Validate checks if the action is known.
func (a Action) Validate() error {
	switch a {
	case ActionAccept, ActionReject, ActionDrop:
		return nil
	default:
		return fmt.Errorf("invalid action: %s", a)
	}
}

// Rule is one packet-filter rule. The zero value of a match field means
// "any". Position is assigned when a ruleset is built or parsed and records
// evaluation order within the chain.
type Rule struct {
	// Chain is the chain name; defaults to INPUT when built from desired
	// input.
	Chain string `yaml:"chain"`

	// Protocol is "tcp", "udp" or empty for any.
	Protocol string `yaml:"protocol"`

	// Port is the destination port; zero means any.
	Port int `yaml:"port"`

	// Source restricts the source address (CIDR or single IP).
	Source string `yaml:"source"`

	// InInterface restricts the input interface (e.g. "lo").
	InInterface string `yaml:"in_interface"`

	// CtState matches conntrack states, e.g. "ESTABLISHED,RELATED".
	CtState string `yaml:"ct_state"`

	// Action is the verdict.
	Action Action `yaml:"action"`

	// Position is the evaluation index within the chain.
	Position int `yaml:"-"`
}

// Validate checks the rule for semantic correctness.
func (r *Rule) Validate() error {
	if err := r.Action.Validate(); err != nil {
		return err
	}
	if r.Port < 0 || r.Port > 65535 {
		return fmt.Errorf("invalid port %d", r.Port)
	}
	if r.Port > 0 && r.Protocol == "" {
		return fmt.Errorf("port %d requires a protocol", r.Port)
	}
	if r.Protocol != "" && r.Protocol != "tcp" && r.Protocol != "udp" {
		return fmt.Errorf("invalid protocol %q", r.Protocol)
	}
	return nil
}

// Overlaps reports whether two rules can match the same traffic. Interface
// and conntrack constraints narrow a rule: a rule bound to the loopback
// interface or to established connections never shadows general traffic
// rules.
func (r *Rule) Overlaps(other *Rule) bool {
	if r.Chain != other.Chain {
		return false
	}
	if r.InInterface != other.InInterface {
		return false
	}
	if r.CtState != other.CtState {
		return false
	}
	if r.Protocol != "" && other.Protocol != "" && r.Protocol != other.Protocol {
		return false
	}
	if r.Port != 0 && other.Port != 0 && r.Port != other.Port {
		return false
	}
	if r.Source != "" && other.Source != "" && r.Source != other.Source {
		return false
	}
	return true
}

// String renders the rule in iptables-save argument form, which doubles as
// the canonical wire format.
func (r *Rule) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "-A %s", r.Chain)
	if r.InInterface != "" {
		fmt.Fprintf(&b, " -i %s", r.InInterface)
	}
	if r.Source != "" {
		fmt.Fprintf(&b, " -s %s", r.Source)
	}
	if r.Protocol != "" {
		fmt.Fprintf(&b, " -p %s", r.Protocol)
	}
	if r.Port != 0 {
		fmt.Fprintf(&b, " --dport %d", r.Port)
	}
	if r.CtState != "" {
		fmt.Fprintf(&b, " -m conntrack --ctstate %s", r.CtState)
	}
	fmt.Fprintf(&b, " -j %s", r.Action)
	return b.String()
}

// RuleOrderError indicates a desired rule set violates the ordering
// invariant: a REJECT/DROP rule precedes an ACCEPT rule matching
// overlapping traffic. Raised before any kernel mutation.
type RuleOrderError struct {
	// Chain is the chain containing the violation.
	Chain string

	// Blocker is the terminal rule found first.
	Blocker string

	// Shadowed is the accept rule it would shadow.
	Shadowed string
}

func (e *RuleOrderError) Error() string {
	return fmt.Sprintf("firewall: chain %s: terminal rule %q precedes overlapping accept rule %q",
		e.Chain, e.Blocker, e.Shadowed)
}

// RuleApplyError indicates the atomic ruleset load failed. The previously
// active ruleset is guaranteed untouched.
type RuleApplyError struct {
	// Stderr is the loader diagnostics, if any.
	Stderr string

	// Err is the underlying failure.
	Err error
}

func (e *RuleApplyError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("firewall: atomic apply failed: %v: %s", e.Err, strings.TrimSpace(e.Stderr))
	}
	return fmt.Sprintf("firewall: atomic apply failed: %v", e.Err)
}

func (e *RuleApplyError) Unwrap() error { return e.Err }
