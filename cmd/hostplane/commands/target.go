package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/hostplane/hostplane/pkg/transport"
)

// targetFlags selects the host a command operates on: localhost by default,
// or a remote host over SSH.
type targetFlags struct {
	sshHost     string
	sshPort     int
	sshUser     string
	sshKeyPath  string
	sshPassword string
}

func (f *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sshHost, "ssh-host", "", "reconcile a remote host over SSH instead of localhost")
	cmd.Flags().IntVar(&f.sshPort, "ssh-port", 22, "SSH port")
	cmd.Flags().StringVar(&f.sshUser, "ssh-user", "root", "SSH user")
	cmd.Flags().StringVar(&f.sshKeyPath, "ssh-key", "", "SSH private key path")
	cmd.Flags().StringVar(&f.sshPassword, "ssh-password", "", "SSH password (prefer --ssh-key)")
}

// runner opens the transport for the selected target. The caller owns the
// returned runner and must close it.
func (f *targetFlags) runner(ctx context.Context) (transport.Runner, error) {
	if f.sshHost == "" {
		return transport.NewLocalRunner(), nil
	}
	return transport.NewSSHRunner(ctx, &transport.SSHConfig{
		Host:           f.sshHost,
		Port:           f.sshPort,
		User:           f.sshUser,
		PrivateKeyPath: f.sshKeyPath,
		Password:       f.sshPassword,
	})
}
