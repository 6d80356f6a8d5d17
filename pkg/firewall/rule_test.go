package firewall

import "testing"

func TestRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{
			name: "accept with port",
			rule: Rule{Protocol: "tcp", Port: 22, Action: ActionAccept},
		},
		{
			name: "reject all",
			rule: Rule{Action: ActionReject},
		},
		{
			name:    "port without protocol",
			rule:    Rule{Port: 22, Action: ActionAccept},
			wantErr: true,
		},
		{
			name:    "port out of range",
			rule:    Rule{Protocol: "tcp", Port: 70000, Action: ActionAccept},
			wantErr: true,
		},
		{
			name:    "unknown protocol",
			rule:    Rule{Protocol: "icmp", Port: 22, Action: ActionAccept},
			wantErr: true,
		},
		{
			name:    "unknown action",
			rule:    Rule{Action: Action("LOG")},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestRuleOverlaps(t *testing.T) {
	catchAll := Rule{Action: ActionReject}
	ssh := Rule{Protocol: "tcp", Port: 22, Action: ActionAccept}
	dns := Rule{Protocol: "udp", Port: 53, Action: ActionAccept}
	sshFromLan := Rule{Protocol: "tcp", Port: 22, Source: "10.0.0.0/8", Action: ActionAccept}

	if !catchAll.Overlaps(&ssh) {
		t.Error("a catch-all rule overlaps every rule in its chain")
	}
	if ssh.Overlaps(&dns) {
		t.Error("different protocols must not overlap")
	}
	if !ssh.Overlaps(&sshFromLan) {
		t.Error("an unscoped source overlaps a scoped one")
	}

	otherChain := Rule{Chain: "FORWARD", Action: ActionReject}
	if otherChain.Overlaps(&ssh) {
		t.Error("rules in different chains must not overlap")
	}
}

func TestRuleString(t *testing.T) {
	rule := Rule{
		Chain:    "INPUT",
		Protocol: "tcp",
		Port:     9987,
		Source:   "10.0.0.0/8",
		Action:   ActionAccept,
	}
	want := "-A INPUT -s 10.0.0.0/8 -p tcp --dport 9987 -j ACCEPT"
	if got := rule.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
