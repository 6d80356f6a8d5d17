package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hostplane/hostplane/pkg/engine"
	"github.com/hostplane/hostplane/pkg/modules"
	"github.com/hostplane/hostplane/pkg/playbook"
	"github.com/hostplane/hostplane/pkg/probe"
	"github.com/hostplane/hostplane/pkg/secrets"
	"github.com/hostplane/hostplane/pkg/stores"
	"github.com/hostplane/hostplane/pkg/telemetry"
)

// passphraseEnv names the environment variable holding the secrets store
// passphrase.
const passphraseEnv = "HOSTPLANE_PASSPHRASE"

type applyFlags struct {
	target         targetFlags
	check          bool
	defaultTimeout time.Duration
	historyDB      string
	metricsListen  string
	traceExporter  string
	traceEndpoint  string
	passphraseFile string
}

func newApplyCommand() *cobra.Command {
	flags := &applyFlags{}

	cmd := &cobra.Command{
		Use:   "apply <playbook.yml>",
		Short: "Apply a playbook to a host",
		Long: `Apply loads the playbook, builds the execution plan, resolves the
secrets store if one is referenced, and executes the tasks in order.
With --check nothing is mutated; tasks report what would change.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runApply(cmd.Context(), args[0], flags)
			if report != nil {
				printReport(cmd, report)
			}
			return err
		},
		SilenceUsage: true,
	}

	flags.target.register(cmd)
	cmd.Flags().BoolVar(&flags.check, "check", false, "dry run: probe and diff, never mutate")
	cmd.Flags().DurationVar(&flags.defaultTimeout, "task-timeout", 5*time.Minute, "default per-task timeout")
	cmd.Flags().StringVar(&flags.historyDB, "history-db", defaultHistoryDB(), "run history database path (empty disables)")
	cmd.Flags().StringVar(&flags.metricsListen, "metrics-listen", "", "expose Prometheus metrics on this address")
	cmd.Flags().StringVar(&flags.traceExporter, "trace-exporter", "none", "trace exporter (none, stdout, otlp)")
	cmd.Flags().StringVar(&flags.traceEndpoint, "trace-endpoint", "localhost:4317", "OTLP gRPC endpoint")
	cmd.Flags().StringVar(&flags.passphraseFile, "passphrase-file", "", "file holding the secrets passphrase (default $"+passphraseEnv+")")

	return cmd
}

// runApply wires the full pipeline for one run: transport, facts, secrets,
// plan, modules, executor, metrics and history.
func runApply(ctx context.Context, path string, flags *applyFlags) (*engine.RunReport, error) {
	pb, err := playbook.Load(path)
	if err != nil {
		return nil, err
	}

	runner, err := flags.target.runner(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = runner.Close() }()

	prober := probe.New(runner)
	facts, err := prober.Facts(ctx)
	if err != nil {
		return nil, err
	}

	var vault *secrets.Vault
	var secretLookup func(string) (string, error)
	if pb.SecretsFile != "" {
		passphrase, err := loadPassphrase(flags.passphraseFile)
		if err != nil {
			return nil, err
		}
		vault, err = secrets.ResolveFile(pb.SecretsPath(), passphrase)
		if err != nil {
			return nil, err
		}
		defer vault.Close()
		secretLookup = vault.Lookup
	}

	plan, err := engine.BuildPlan(pb.Tasks, pb.Handlers)
	if err != nil {
		return nil, err
	}

	evaluator, err := engine.NewConditionEvaluator(facts, pb.Vars)
	if err != nil {
		return nil, err
	}

	registry := modules.NewRegistry(modules.Options{
		Runner:       runner,
		Prober:       prober,
		Facts:        facts,
		Vars:         pb.Vars,
		SecretLookup: secretLookup,
		SrcRoot:      pb.Dir,
	})

	metrics := telemetry.NewMetrics(telemetry.MetricsConfig{
		Enabled:   flags.metricsListen != "",
		Namespace: "hostplane",
	})
	if flags.metricsListen != "" {
		handler, err := metrics.Handler()
		if err != nil {
			return nil, err
		}
		go func() {
			if err := http.ListenAndServe(flags.metricsListen, handler); err != nil {
				log.Warn().Err(err).Msg("metrics listener stopped")
			}
		}()
	}

	tracingCfg := telemetry.DefaultTracingConfig()
	tracingCfg.Enabled = flags.traceExporter != "none"
	tracingCfg.Exporter = flags.traceExporter
	tracingCfg.Endpoint = flags.traceEndpoint
	tracer, err := telemetry.NewTracer(tracingCfg, "hostplane", "dev")
	if err != nil {
		return nil, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	executor := engine.NewExecutor(registry, evaluator, engine.ExecutorConfig{
		CheckMode:      flags.check,
		DefaultTimeout: flags.defaultTimeout,
		Observer:       metrics,
	})

	ctx, span := tracer.StartRun(ctx, pb.Name)
	defer span.End()

	report, runErr := executor.Run(ctx, plan)

	if flags.historyDB != "" && report != nil {
		if err := recordHistory(pb.Name, flags.historyDB, report); err != nil {
			log.Warn().Err(err).Msg("failed to record run history")
		}
	}

	return report, runErr
}

func recordHistory(playbookName, dbPath string, report *engine.RunReport) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return err
	}
	store, err := stores.NewHistoryStore(dbPath)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return store.RecordRun(ctx, playbookName, report)
}

func loadPassphrase(file string) (string, error) {
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return "", engine.NewSecretError("failed to read passphrase file", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	if pass := os.Getenv(passphraseEnv); pass != "" {
		return pass, nil
	}
	return "", engine.NewSecretError(
		"no passphrase: set "+passphraseEnv+" or --passphrase-file", nil)
}

func defaultHistoryDB() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".hostplane", "history.db")
}

// printReport writes the run outcome to stdout, one line per task plus a
// summary, or the full report as JSON with --json.
func printReport(cmd *cobra.Command, report *engine.RunReport) {
	out := cmd.OutOrStdout()

	if jsonOutput {
		data, err := json.MarshalIndent(report, "", "  ")
		if err == nil {
			fmt.Fprintln(out, string(data))
		}
		return
	}

	for _, task := range report.Tasks {
		line := fmt.Sprintf("%-8s %s (%s)", task.Status, task.TaskName, task.Module)
		if task.Action != "" {
			line += " " + task.Action
		}
		fmt.Fprintln(out, line)
		if task.Diff != "" {
			fmt.Fprintln(out, task.Diff)
		}
		if task.Error != "" {
			fmt.Fprintln(out, "  error:", task.Error)
		}
	}
	fmt.Fprintf(out, "\n%s: ok=%d changed=%d failed=%d skipped=%d\n",
		report.Status, report.Summary.OK, report.Summary.Changed,
		report.Summary.Failed, report.Summary.Skipped)
}
