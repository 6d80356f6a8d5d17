package firewall

import (
	"fmt"
	"strconv"
	"strings"
)

// Ruleset is an ordered sequence of rules for the filter table, together
// with the chain policies. It is the unit of atomic apply: a ruleset is
// always loaded whole, never edited in place.
type Ruleset struct {
	// Chains lists chain names in declaration order.
	Chains []string

	// Policies maps chain name to its default policy.
	Policies map[string]Action

	// Rules in evaluation order across all chains.
	Rules []Rule
}

// NewRuleset returns an empty ruleset with the standard filter chains.
func NewRuleset() *Ruleset {
	return &Ruleset{
		Chains: []string{"INPUT", "FORWARD", "OUTPUT"},
		Policies: map[string]Action{
			"INPUT":   ActionAccept,
			"FORWARD": ActionAccept,
			"OUTPUT":  ActionAccept,
		},
	}
}

// ChainRules returns the rules of one chain in evaluation order.
func (rs *Ruleset) ChainRules(chain string) []Rule {
	var out []Rule
	for _, r := range rs.Rules {
		if r.Chain == chain {
			out = append(out, r)
		}
	}
	return out
}

// ParseSave parses iptables-save output (filter table) into a Ruleset.
// Only the rule vocabulary hostplane manages is understood; an unrecognized
// match extension is an error rather than silent loss, so that parse and
// Render round-trip losslessly.
func ParseSave(data []byte) (*Ruleset, error) {
	rs := &Ruleset{Policies: make(map[string]Action)}

	inFilter := false
	position := make(map[string]int)

	for lineNo, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "*"):
			inFilter = line == "*filter"

		case line == "COMMIT":
			inFilter = false

		case strings.HasPrefix(line, ":"):
			if !inFilter {
				continue
			}
			fields := strings.Fields(line[1:])
			if len(fields) < 2 {
				return nil, fmt.Errorf("line %d: malformed chain declaration %q", lineNo+1, line)
			}
			chain := fields[0]
			policy := Action(fields[1])
			if policy != "-" {
				if err := policy.Validate(); err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
				}
				rs.Policies[chain] = policy
			}
			rs.Chains = append(rs.Chains, chain)

		case strings.HasPrefix(line, "-A "):
			if !inFilter {
				continue
			}
			rule, err := parseRuleLine(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo+1, err)
			}
			rule.Position = position[rule.Chain]
			position[rule.Chain]++
			rs.Rules = append(rs.Rules, *rule)

		default:
			if inFilter {
				return nil, fmt.Errorf("line %d: unsupported directive %q", lineNo+1, line)
			}
		}
	}

	return rs, nil
}

// parseRuleLine parses one "-A CHAIN ..." line.
func parseRuleLine(line string) (*Rule, error) {
	fields := strings.Fields(line)
	rule := &Rule{}

	i := 0
	next := func() (string, error) {
		i++
		if i >= len(fields) {
			return "", fmt.Errorf("truncated rule %q", line)
		}
		return fields[i], nil
	}

	for i < len(fields) {
		var err error
		var val string

		switch fields[i] {
		case "-A":
			if val, err = next(); err != nil {
				return nil, err
			}
			rule.Chain = val
		case "-i":
			if val, err = next(); err != nil {
				return nil, err
			}
			rule.InInterface = val
		case "-s":
			if val, err = next(); err != nil {
				return nil, err
			}
			rule.Source = val
		case "-p":
			if val, err = next(); err != nil {
				return nil, err
			}
			rule.Protocol = val
		case "--dport":
			if val, err = next(); err != nil {
				return nil, err
			}
			port, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("invalid port %q", val)
			}
			rule.Port = port
		case "-m":
			if val, err = next(); err != nil {
				return nil, err
			}
			if val != "conntrack" {
				return nil, fmt.Errorf("unsupported match extension %q", val)
			}
		case "--ctstate":
			if val, err = next(); err != nil {
				return nil, err
			}
			rule.CtState = val
		case "-j":
			if val, err = next(); err != nil {
				return nil, err
			}
			rule.Action = Action(val)
		default:
			return nil, fmt.Errorf("unsupported rule token %q", fields[i])
		}
		i++
	}

	if rule.Chain == "" {
		return nil, fmt.Errorf("rule without chain: %q", line)
	}
	if err := rule.Action.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

// Render serializes the ruleset in iptables-save format, suitable both for
// iptables-restore stdin and for the persisted rules file.
func (rs *Ruleset) Render() []byte {
	var b strings.Builder
	b.WriteString("*filter\n")
	for _, chain := range rs.Chains {
		policy, ok := rs.Policies[chain]
		if !ok {
			b.WriteString(fmt.Sprintf(":%s - [0:0]\n", chain))
			continue
		}
		b.WriteString(fmt.Sprintf(":%s %s [0:0]\n", chain, policy))
	}
	for i := range rs.Rules {
		b.WriteString(rs.Rules[i].String())
		b.WriteString("\n")
	}
	b.WriteString("COMMIT\n")
	return []byte(b.String())
}
