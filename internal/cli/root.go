package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/namegraph/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	v *viper.Viper
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the namegraph CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{v: viper.New()}

	cmd := &cobra.Command{
		Use:   "namegraph",
		Short: "namegraph - naming graph materializer",
		Long:  "Materializes the domains, registrations and resolver records of a hierarchical naming system from its contract events.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVarP(&opts.ConfigFile, "config", "c", "", "config file (default: ./namegraph.yaml)")
	pf.String("db", "", "path to SQLite database (default: namegraph.db)")
	pf.String("manifest", "", "deployment manifest (default: embedded mainnet manifest)")
	pf.String("heal-url", "", "label healing service base URL")
	pf.String("trace", "", "span exporter (none|stdout|otlp)")

	// Flags override the config file and the environment.
	_ = opts.v.BindPFlag("db", pf.Lookup("db"))
	_ = opts.v.BindPFlag("manifest", pf.Lookup("manifest"))
	_ = opts.v.BindPFlag("heal.url", pf.Lookup("heal-url"))
	_ = opts.v.BindPFlag("trace.exporter", pf.Lookup("trace"))

	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewCheckCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// Execute runs the command tree with args and returns the process exit code.
func Execute(args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(stderr, "Error:", err)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// LoadConfig reads the config file, NAMEGRAPH_* variables and the bound
// flags.
func (o *RootOptions) LoadConfig() (config.Config, error) {
	cfg, err := config.Load(o.v, o.ConfigFile)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// Logger returns a text logger writing to w, at debug level in verbose mode.
func (o *RootOptions) Logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
