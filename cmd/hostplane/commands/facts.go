package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hostplane/hostplane/pkg/probe"
)

func newFactsCommand() *cobra.Command {
	target := &targetFlags{}

	cmd := &cobra.Command{
		Use:   "facts",
		Short: "Probe and print host facts",
		Long:  `Facts probes the target host (OS, kernel, architecture, hostname) and prints the result. These are the values guard expressions see.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, err := target.runner(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = runner.Close() }()

			facts, err := probe.New(runner).Facts(cmd.Context())
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(facts, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
		SilenceUsage: true,
	}

	target.register(cmd)
	return cmd
}
