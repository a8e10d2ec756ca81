// Copyright (c) 2026 Stagehand Team
// Stagehand - VM provisioning and backup toolkit
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the root command, configuration loading and the shared
// services the subcommands use.

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stagehand-ops/stagehand/buildvars"
	"github.com/stagehand-ops/stagehand/internal/config"
	"github.com/stagehand-ops/stagehand/internal/db"
	"github.com/stagehand-ops/stagehand/internal/execx"
	"github.com/stagehand-ops/stagehand/internal/i18n"
	"github.com/stagehand-ops/stagehand/internal/logging"
	"github.com/stagehand-ops/stagehand/internal/tui"
)

// Fallbacks for builds without link-time values; see package buildvars.
var (
	version   = "dev"
	gitCommit = "dev"
	buildDate = ""
)

// app holds what PersistentPreRunE resolved for the running command.
type app struct {
	cfg        config.Config
	configPath string
	verbose    bool
	out        io.Writer
}

// Execute runs the CLI. The caller turns the error into an exit code with
// execx.ExitCode.
func Execute() error {
	root := NewRootCmd()
	root.SilenceErrors = true
	err := root.Execute()
	if errors.Is(err, errVersionShown) {
		return nil
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, i18n.T("cli.error", err))
	}
	return err
}

// NewRootCmd builds a fresh command tree. Tests call it once per case.
func NewRootCmd() *cobra.Command {
	a := &app{}
	var showVersion bool

	cmd := &cobra.Command{
		Use:   "stagehand",
		Short: "Provision VMs with gcloud and Ansible, and back up their state.",
		Long: `Stagehand creates and updates Compute Engine instances with gcloud,
configures them with ansible-playbook, and takes and restores compressed,
optionally encrypted backups of the application state.

Running without a subcommand opens the terminal view of known instances.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				fmt.Fprintln(cmd.OutOrStdout(), compositeVersion())
				return errVersionShown
			}
			return a.setup(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()
			return tui.Run(store)
		},
	}
	cmd.Version = compositeVersion()
	cmd.SetVersionTemplate("{{.Version}}\n")

	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Verbose output; passes -v to ansible-playbook")
	cmd.PersistentFlags().BoolVarP(&showVersion, "version", "V", false, "Print version and exit")
	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "config file")
	cmd.PersistentFlags().String("language", "en", `Message language ("en", "de")`)
	_ = cmd.PersistentFlags().SetAnnotation("language", config.FlagAnnotation, []string{"language"})

	cmd.AddCommand(
		newCreateCmd(a),
		newUpdateCmd(a),
		newDestroyCmd(a),
		newBackupCmd(a),
		newRestoreCmd(a),
		newListCmd(a),
		newDashboardCmd(a),
		newVersionCmd(),
	)
	return cmd
}

// errVersionShown stops execution after --version without an error exit.
var errVersionShown = errors.New("version shown")

func (a *app) setup(cmd *cobra.Command) error {
	a.out = cmd.OutOrStdout()
	logging.SetVerbose(a.verbose)

	var explicit *string
	if cmd.Flags().Changed("config") && a.configPath != "" {
		if _, err := os.Stat(a.configPath); err != nil {
			return fmt.Errorf("config file given with --config is not accessible: %w", err)
		}
		explicit = &a.configPath
	}

	cfg, err := config.LoadConfig[config.Config](cmd, config.Defaults(), explicit)
	var notFound viper.ConfigFileNotFoundError
	switch {
	case errors.As(err, &notFound):
		// First run. Persist the defaults so there is a file to edit, but
		// never as part of a dry run.
		if !dryRunRequested(cmd) {
			if path, werr := config.WriteConfigFile(&cfg, false); werr != nil {
				logging.Warnf("could not write default config file: %v", werr)
			} else {
				logging.Debugf("wrote default config to %s", path)
			}
		}
	case err != nil:
		return fmt.Errorf("error loading config: %w", err)
	}
	a.cfg = cfg
	i18n.Init(cfg.Language)
	return nil
}

func dryRunRequested(cmd *cobra.Command) bool {
	f := cmd.Flags().Lookup("dry-run")
	return f != nil && f.Value.String() == "true"
}

// runner returns the command runner for this invocation.
func (a *app) runner(dryRun bool) execx.Runner {
	if dryRun {
		return execx.NewDryRunRunner(a.out)
	}
	r := execx.NewExecRunner()
	if a.verbose {
		r.Trace = os.Stderr
	}
	return r
}

// openStore opens the record store named in the configuration.
func (a *app) openStore(ctx context.Context) (*db.BunStore, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := db.Open(ctx, a.cfg.Database.Type, a.cfg.Database.Dsn)
	if err != nil {
		return nil, errors.New(i18n.T("cli.error_open_db", err))
	}
	return store, nil
}

// optionalStore opens the store for recording; a failure only warns since
// provisioning does not depend on it.
func (a *app) optionalStore(ctx context.Context, dryRun bool) *db.BunStore {
	if dryRun {
		return nil
	}
	store, err := a.openStore(ctx)
	if err != nil {
		logging.Warnf("%v", err)
		return nil
	}
	return store
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Args:  cobra.NoArgs,
		// No config needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			v, c, d := resolveBuildVersion(nil)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "version: %s\n", v)
			fmt.Fprintf(out, "commit: %s\n", c)
			if d != "" {
				fmt.Fprintf(out, "built: %s\n", d)
			}
		},
	}
}

func compositeVersion() string {
	v, c, d := resolveBuildVersion(nil)
	s := v
	if c != "" && c != "dev" {
		s += " (" + c + ")"
	}
	if d != "" {
		s += " built: " + d
	}
	return s
}

// toolVersion is the version recorded in backup manifests.
func toolVersion() string {
	v, _, _ := resolveBuildVersion(nil)
	return v
}

// resolveBuildVersion computes the best-available version, commit and build
// date. With a nil info the runtime build info is used.
func resolveBuildVersion(info *debug.BuildInfo) (versionOut, commitOut, dateOut string) {
	resolvedVersion := buildvars.VersionOrDefault(version)
	resolvedCommit := buildvars.CommitOrDefault(gitCommit)
	resolvedDate := buildvars.BuildDateOrDefault(buildDate)
	if buildvars.Version != "" {
		return resolvedVersion, resolvedCommit, resolvedDate
	}

	if info == nil {
		if local, ok := debug.ReadBuildInfo(); ok {
			info = local
		}
	}
	if info != nil {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			resolvedVersion = info.Main.Version
		}
		if resolvedVersion == "dev" || resolvedVersion == "(devel)" {
			for _, dep := range info.Deps {
				if dep.Path == "github.com/stagehand-ops/stagehand" && dep.Version != "" {
					resolvedVersion = dep.Version
					break
				}
			}
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if s.Value != "" {
					resolvedCommit = s.Value
				}
			case "vcs.time":
				if s.Value != "" {
					resolvedDate = s.Value
				}
			}
		}
	}

	if linked := buildvars.CommitOrDefault(gitCommit); resolvedVersion == "dev" && linked != "dev" && linked != "" {
		resolvedVersion = linked
	}
	return resolvedVersion, resolvedCommit, resolvedDate
}
