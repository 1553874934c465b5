package cli

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X ...cli.Version=v1.2.3".
var Version = "dev"

// VersionInfo describes the running binary.
type VersionInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Schema    uint   `json:"schema,omitempty"`
}

// NewVersionCommand creates the version command.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	var withSchema bool
	cmd := &cobra.Command{
		Use:           "version",
		Short:         "Print the version",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			info := VersionInfo{Version: Version}
			if bi, ok := debug.ReadBuildInfo(); ok {
				info.GoVersion = bi.GoVersion
			}

			if withSchema {
				sess, err := openSession(rootOpts, cmd)
				if err != nil {
					return err
				}
				defer sess.Close()
				info.Schema, err = sess.db.SchemaVersion(cmd.Context())
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to read schema version", err)
				}
			}

			if out.Format == "json" {
				return out.Success(info)
			}
			line := fmt.Sprintf("namegraph %s (%s)", info.Version, info.GoVersion)
			if withSchema {
				line += fmt.Sprintf(" schema %d", info.Schema)
			}
			return out.Success(line)
		},
	}
	cmd.Flags().BoolVar(&withSchema, "schema", false, "also print the database schema version")
	return cmd
}
