package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"udos/internal/config"
	"udos/internal/contract"
	"udos/internal/dispatch"
	"udos/internal/engine"
	"udos/internal/logging"
	"udos/internal/server"
)

// Exit codes for the shell entry.
const (
	exitOK                   = 0
	exitInputInvalid         = 2
	exitConfirmationRequired = 3
	exitProviderFailure      = 4
	exitContractUnrepairable = 5
)

var (
	// Global flags
	configDir     string
	dispatchDebug bool
	confirm       bool
	dryRun        bool
	logRawInput   bool
	verbose       bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ucode",
	Short: "uDOS wizard engine - command dispatcher and assistant",
	Long: `ucode routes every input through three fixed stages: the canonical
uCODE command catalog, validated shell passthrough, and the cloud
assistant chain. Run without arguments for the interactive prompt.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runInteractive(cmd.Context())
	},
}

// exitError carries a shell exit code up to main so deferred cleanup
// still runs on the way out.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

var dispatchCmd = &cobra.Command{
	Use:   "dispatch [input...]",
	Short: "Dispatch one input and print the response envelope",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		resp := e.Dispatch(cmd.Context(), &dispatch.Request{
			Input:       strings.Join(args, " "),
			Caller:      dispatch.CallerShell,
			Debug:       dispatchDebug,
			Confirm:     confirm,
			DryRun:      dryRun,
			LogRawInput: logRawInput,
		})
		printEnvelope(resp)
		if code := exitCodeFor(resp); code != exitOK {
			return exitError{code: code}
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the loopback wizard HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		e, err := engine.New(cfg)
		if err != nil {
			return err
		}
		defer e.Close()

		// Keep the contract honest while serving: re-check on artifact
		// changes.
		manager := contract.NewManager(cfg)
		watcher, err := contract.NewWatcher(manager, cfg.ConfigDir(), cfg.EnvFilePath(), func(r *contract.StatusReport) {
			logger.Warn("contract drift detected", zap.Any("drift", r.Drift))
		})
		if err == nil {
			if err := watcher.Start(cmd.Context()); err == nil {
				defer watcher.Stop()
			}
		}

		return server.New(e, cfg, logger).ListenAndServe(cmd.Context())
	},
}

var contractCmd = &cobra.Command{
	Use:   "contract",
	Short: "Inspect or repair the admin-secret contract",
}

var contractStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report drift across env file, config, and secret store",
	RunE: func(_ *cobra.Command, _ []string) error {
		e, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		report, err := e.ContractStatus()
		if err != nil {
			return err
		}
		printJSON(report)
		if !report.OK {
			return exitError{code: exitContractUnrepairable}
		}
		return nil
	},
}

var contractRepairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Run the contract repair sequence",
	RunE: func(_ *cobra.Command, _ []string) error {
		e, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		report, err := e.RepairContract()
		if err != nil {
			return err
		}
		printJSON(report)
		if !report.OK {
			return exitError{code: exitContractUnrepairable}
		}
		return nil
	},
}

var selfhealCmd = &cobra.Command{
	Use:   "selfheal",
	Short: "Probe the local model service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		e, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		report, err := e.SelfHeal(cmd.Context())
		if err != nil {
			return err
		}
		printJSON(report)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print local session-log counters",
	RunE: func(_ *cobra.Command, _ []string) error {
		e, err := buildEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		printJSON(e.Stats())
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	dir := configDir
	if dir == "" {
		dir = config.DefaultConfigDir()
	}
	cfg, err := config.Load(filepath.Join(dir, "wizard.json"))
	if err != nil {
		return nil, err
	}
	cfg.SetConfigDir(dir)
	if err := logging.Initialize(cfg.StateDir(), cfg.WizardPath()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: logging init failed: %v\n", err)
	}
	return cfg, nil
}

func buildEngine() (*engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return engine.New(cfg)
}

// runInteractive is the prompt loop: each line goes through the full
// dispatcher, EXIT/QUIT leaves.
func runInteractive(ctx context.Context) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.Close()

	fmt.Println("uDOS wizard. Type HELP for commands, EXIT to leave.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("ucode> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch strings.ToUpper(line) {
		case "EXIT", "QUIT":
			return nil
		}

		resp := e.Dispatch(ctx, &dispatch.Request{
			Input:       line,
			Caller:      dispatch.CallerInteractive,
			Debug:       dispatchDebug,
			Confirm:     confirm,
			DryRun:      dryRun,
			LogRawInput: logRawInput,
		})
		renderResponse(resp)
	}
}

// renderResponse prints a short human line per response; --dispatch-debug
// adds the full envelope.
func renderResponse(resp *dispatch.Response) {
	switch resp.Status {
	case dispatch.StatusSuccess:
		switch resp.DispatchTo {
		case dispatch.RouteVibe:
			fmt.Printf("[%s] %s\n", resp.Payload.ProviderUsed, resp.Payload.Text)
		default:
			if resp.Payload.Output != "" {
				fmt.Print(resp.Payload.Output)
				if !strings.HasSuffix(resp.Payload.Output, "\n") {
					fmt.Println()
				}
			} else {
				fmt.Printf("ok: %s\n", resp.Payload.Command)
			}
		}
	case dispatch.StatusPending:
		fmt.Println("confirmation required: repeat with --confirm to execute")
	case dispatch.StatusSkipped:
		fmt.Printf("dry-run: would dispatch to %s\n", resp.DispatchTo)
	default:
		fmt.Printf("error (%s): %s\n", resp.Code, resp.Message)
	}
	if dispatchDebug {
		printEnvelope(resp)
	}
}

func printEnvelope(resp *dispatch.Response) {
	printJSON(resp)
}

func printJSON(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

// exitCodeFor maps a response envelope to the shell exit code.
func exitCodeFor(resp *dispatch.Response) int {
	switch resp.Status {
	case dispatch.StatusSuccess, dispatch.StatusSkipped:
		return exitOK
	case dispatch.StatusPending:
		return exitConfirmationRequired
	}
	switch resp.Code {
	case dispatch.CodeInputInvalid, dispatch.CodeNoMatch, dispatch.CodeShellBlocked:
		return exitInputInvalid
	case dispatch.CodeConfirmationRequired:
		return exitConfirmationRequired
	case dispatch.CodeProviderMissingAuth, dispatch.CodeProviderAuthError,
		dispatch.CodeProviderRateLimit, dispatch.CodeProviderUnreachable,
		dispatch.CodeProviderInvalidResponse:
		return exitProviderFailure
	case dispatch.CodeContractUnrepairable:
		return exitContractUnrepairable
	default:
		return 1
	}
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "config directory (default ~/.udos)")
	rootCmd.PersistentFlags().BoolVar(&dispatchDebug, "dispatch-debug", false, "attach the route trace to responses")
	rootCmd.PersistentFlags().BoolVar(&confirm, "confirm", false, "execute commands that need confirmation")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "classify without executing")
	rootCmd.PersistentFlags().BoolVar(&logRawInput, "log-raw-input", false, "store raw input text in the session log")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	contractCmd.AddCommand(contractStatusCmd, contractRepairCmd)
	rootCmd.AddCommand(dispatchCmd, serveCmd, contractCmd, selfhealCmd, statsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if logger != nil {
		_ = logger.Sync()
	}
	logging.CloseAll()

	if err != nil {
		var ee exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
