package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"strings"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/ledgerline/pkg/config"
	"github.com/ajitpratap0/ledgerline/pkg/logger"
)

var version = "1.0.0"

// Exit codes.
const (
	exitOK        = 0
	exitNotFound  = 1
	exitDuplicate = 2
	exitFailed    = 3
)

// exitError carries the process exit code and the message shown to the
// operator.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

// app holds state shared by the commands.
type app struct {
	stdout io.Writer
	stderr io.Writer

	configPath string
	server     string
	jsonOut    bool
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return exitOK
	}

	fmt.Fprintln(stderr, err.Error())
	if e, ok := err.(*exitError); ok {
		return e.code
	}
	return exitNotFound
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ledgerline",
		Short: "ledgerline - run ETL jobs with a status ledger",
		Long: `ledgerline moves tabular data from local or remote sources through schema
validation into a datastore, recording every run in a status ledger so that
unchanged input is never loaded twice.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", envOr("LEDGERLINE_CONFIG", "settings.yaml"), "Path to the settings file")
	root.PersistentFlags().StringVarP(&a.server, "server", "s", envOr("LEDGERLINE_SERVER", "default"), "Server section of the settings file")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Print machine readable JSON")

	root.AddCommand(
		a.runCmd(),
		a.createDBCmd(),
		a.statusCmd(),
		a.listCmd(),
		a.versionCmd(),
	)
	return root
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.jsonOut {
				return a.printJSON(map[string]string{
					"version": version,
					"go":      runtime.Version(),
					"os_arch": runtime.GOOS + "/" + runtime.GOARCH,
				})
			}
			fmt.Fprintf(a.stdout, "ledgerline v%s\n", version)
			fmt.Fprintf(a.stdout, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(a.stdout, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}

// loadConfig reads the selected server, naming the available servers when
// the selection is unknown.
func (a *app) loadConfig() (*config.ServerConfig, error) {
	servers, err := config.Servers(a.configPath)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(servers, a.server) {
		return nil, fmt.Errorf("invalid choice: %s. (choose from %s)", a.server, strings.Join(servers, ", "))
	}
	return config.Load(a.configPath, a.server)
}

// newLogger builds the server's logger. Logs go to stderr unless the
// settings name other outputs, so stdout stays clean for --json.
func (a *app) newLogger(cfg *config.ServerConfig) (*zap.Logger, error) {
	lc := cfg.Logging
	if len(lc.OutputPaths) == 0 {
		lc.OutputPaths = []string{"stderr"}
	}
	log, err := logger.New(lc)
	if err != nil {
		return nil, err
	}
	return log.With(zap.String("component", "ledgerline-cli"), zap.String("server", cfg.Name())), nil
}

func (a *app) printJSON(v any) error {
	b, err := gojson.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.stdout, string(b))
	return err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
