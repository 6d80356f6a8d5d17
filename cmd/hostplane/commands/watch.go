package commands

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newWatchCommand() *cobra.Command {
	flags := &applyFlags{}

	cmd := &cobra.Command{
		Use:   "watch <playbook.yml>",
		Short: "Re-check the playbook whenever it changes",
		Long: `Watch runs a check-mode apply whenever the playbook file is written,
showing what drifted since the last edit. Nothing is ever mutated; use
apply to converge the host.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			flags.check = true
			flags.historyDB = ""
			flags.traceExporter = "none"
			flags.defaultTimeout = 5 * time.Minute

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return err
			}
			defer func() { _ = watcher.Close() }()
			if err := watcher.Add(path); err != nil {
				return err
			}

			run := func() {
				report, err := runApply(cmd.Context(), path, flags)
				if err != nil {
					log.Error().Err(err).Msg("check failed")
				}
				if report != nil {
					printReport(cmd, report)
				}
			}
			run()

			// Editors fire bursts of events per save; debounce them.
			var pending <-chan time.Time
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
						pending = time.After(250 * time.Millisecond)
					}
				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					log.Warn().Err(err).Msg("watch error")
				case <-pending:
					pending = nil
					log.Info().Str("playbook", path).Msg("playbook changed, re-checking")
					run()
				}
			}
		},
		SilenceUsage: true,
	}

	flags.target.register(cmd)
	cmd.Flags().StringVar(&flags.passphraseFile, "passphrase-file", "", "file holding the secrets passphrase (default $"+passphraseEnv+")")
	return cmd
}
