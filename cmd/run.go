package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/dkastrov/taskpilot-cli/api/schemas"
	"github.com/dkastrov/taskpilot-cli/internal/browser"
	"github.com/dkastrov/taskpilot-cli/internal/browser/executor"
	"github.com/dkastrov/taskpilot-cli/internal/browser/monitor"
	"github.com/dkastrov/taskpilot-cli/internal/browser/resolver"
	"github.com/dkastrov/taskpilot-cli/internal/browser/snapshot"
	"github.com/dkastrov/taskpilot-cli/internal/config"
	"github.com/dkastrov/taskpilot-cli/internal/llmclient"
	"github.com/dkastrov/taskpilot-cli/internal/observability"
	"github.com/dkastrov/taskpilot-cli/internal/orchestrator"
	"github.com/dkastrov/taskpilot-cli/internal/reasoner"
	"github.com/dkastrov/taskpilot-cli/internal/recovery"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	var (
		startURL    string
		jsonOutput  bool
		taskTimeout time.Duration
	)

	runCmd := &cobra.Command{
		Use:   "run \"task description\"",
		Short: "Runs a natural-language task against a live web page",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags so command-line values override the config file and
			// environment with the right precedence.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()

			// Re-build the config now that flag bindings are in place.
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			task := strings.TrimSpace(args[0])
			if task == "" {
				return fmt.Errorf("the task description must not be empty")
			}
			if startURL == "" {
				return fmt.Errorf("a start page is required; pass --url")
			}
			if !strings.HasPrefix(startURL, "http://") && !strings.HasPrefix(startURL, "https://") {
				startURL = "https://" + startURL
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if taskTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, taskTimeout)
				defer cancel()
			}

			logger.Info("Starting task run",
				zap.String("url", startURL),
				zap.String("task", task),
				zap.Bool("headless", cfg.Browser.Headless))

			report, err := runTask(ctx, cfg, startURL, task, logger)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return fmt.Errorf("task aborted by user signal")
				}
				return err
			}

			if err := printReport(cmd, report, jsonOutput); err != nil {
				return err
			}
			if !report.Success {
				return fmt.Errorf("task did not complete: %s", report.Report)
			}
			return nil
		},
	}

	runCmd.Flags().StringVarP(&startURL, "url", "u", "", "page to open before the task starts (required)")
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the task report as JSON")
	runCmd.Flags().Bool("headless", true, "run the browser headless")
	runCmd.Flags().DurationVar(&taskTimeout, "task-timeout", 10*time.Minute, "overall deadline for the task run (0 disables)")

	return runCmd
}

// runTask wires the engine together for a single task and tears it down
// again. The browser session lives exactly as long as the task.
func runTask(ctx context.Context, cfg *config.Config, startURL, task string, logger *zap.Logger) (*schemas.TaskReport, error) {
	client, err := llmclient.NewClient(cfg.Agent, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing the reasoning client: %w", err)
	}

	session, err := browser.NewSession(ctx, cfg.Browser, logger)
	if err != nil {
		return nil, fmt.Errorf("launching the browser: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn("Browser session teardown failed", zap.Error(err))
		}
	}()

	if err := session.Navigate(ctx, startURL); err != nil {
		return nil, fmt.Errorf("opening %s: %w", startURL, err)
	}

	capturer := snapshot.NewCapturer(session, cfg.Task.MaxSnapshotElements, logger)
	elements := resolver.New(session, logger)
	steps := executor.New(session, elements, cfg.Task, logger)
	watcher := monitor.New(session, cfg.Task, logger)
	session.SetPageErrorHandler(watcher.ReportPageError)
	engine := recovery.NewEngine(elements, cfg.Task.RecoveryDelay, logger)
	mind := reasoner.New(client, logger)

	orch, err := orchestrator.New(capturer, mind, steps, engine, watcher, logger)
	if err != nil {
		return nil, err
	}
	return orch.RunTask(ctx, task)
}

func printReport(cmd *cobra.Command, report *schemas.TaskReport, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		blob, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
		fmt.Fprintln(out, string(blob))
		return nil
	}

	status := "FAILED"
	if report.Success {
		status = "OK"
	}
	fmt.Fprintf(out, "Task %s [%s]\n", report.TaskID, status)
	fmt.Fprintf(out, "  Page:    %s\n", report.PageSummary)
	fmt.Fprintf(out, "  Actions: %d\n", report.ActionsPerformed)
	fmt.Fprintf(out, "  Report:  %s\n", report.Report)
	if report.Error != "" {
		fmt.Fprintf(out, "  Error:   %s\n", report.Error)
	}
	return nil
}
