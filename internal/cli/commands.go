package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"crusty/internal/logging"
	"crusty/internal/mapping"
)

// App is the crusty command line. WorkDir defaults to the process working
// directory; relative paths in flags resolve against it.
type App struct {
	Stdout  io.Writer
	Stderr  io.Writer
	WorkDir string
	Hooks   Hooks

	exitCode int
	started  bool

	configPath string
	cacheDir   string
	verbose    bool
	offline    bool
}

// Run executes args (without argv[0]) and returns the exit status.
func (a *App) Run(ctx context.Context, args []string) int {
	if a.Stdout == nil {
		a.Stdout = os.Stdout
	}
	if a.Stderr == nil {
		a.Stderr = os.Stderr
	}
	if a.WorkDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(a.Stderr, err)
			return ExitInternalError
		}
		a.WorkDir = wd
	}

	root := a.Command()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return a.exitCode
	}
	fmt.Fprintln(a.Stderr, "Error:", err)
	if !a.started {
		// cobra rejected the command line before any command ran
		return ExitInvalidInvocation
	}
	if a.exitCode != ExitSuccess {
		return a.exitCode
	}
	return ExitCode(err)
}

// Command builds the cobra command tree.
func (a *App) Command() *cobra.Command {
	root := &cobra.Command{
		Use:   "crusty",
		Short: "Deobfuscate a Minecraft server with Spigot build data",
		Long: `crusty downloads a Minecraft server and Spigot's build data, merges
the community and authoritative mappings and drives the remapping tools
to produce either a stripped, remapped server jar or decompiled sources.

Every stage output is cached; an interrupted build resumes at the stage
that did not finish.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(a.Stdout)
	root.SetErr(a.Stderr)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return invalidInvocationf("%v", err)
	})

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "config file (default ./crusty.yaml when present)")
	pf.StringVar(&a.cacheDir, "cache-dir", "", "cache directory (overrides config)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.BoolVar(&a.offline, "offline", false, "reuse cached downloads without revalidating them")

	root.AddCommand(a.buildCommand(), a.mergeCommand(), a.fieldMapCommand(), a.statusCommand())
	return root
}

func (a *App) buildCommand() *cobra.Command {
	var inv BuildInvocation
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run the build pipeline",
		Long: `Runs every pipeline stage that has not completed yet and prints the
path of the final artifact: final-stripped.jar, or the final_sources
directory with --sources.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.started = true
			inv.WorkDir = a.WorkDir
			inv.ConfigPath = a.configPath
			inv.CacheDir = a.cacheDir
			inv.Verbose = a.verbose
			inv.Offline = a.offline
			canon, err := inv.Canonicalize()
			if err != nil {
				a.exitCode = ExitCode(err)
				return err
			}
			res, err := ExecuteWith(cmd.Context(), canon, a.Hooks)
			a.exitCode = res.ExitCode
			if err != nil {
				return err
			}
			fmt.Fprintln(a.Stdout, res.Output)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&inv.Archive, "archive", "", "local build data archive (skips the download)")
	f.StringVar(&inv.Commit, "commit", "", "build data commit to fetch instead of the latest")
	f.BoolVar(&inv.Sources, "sources", false, "decompile instead of producing a stripped jar")
	f.BoolVar(&inv.Strict, "strict", false, "fail on fields without an intermediary descriptor")
	f.BoolVar(&inv.Intermediary, "intermediary", false, "also produce the unified intermediary mapping")
	f.StringVar(&inv.TracePath, "trace", "", "write the stage trace to this file")
	return cmd
}

func (a *App) mergeCommand() *cobra.Command {
	var (
		classes, members   []string
		intermediary, outp string
		strict             bool
	)
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Merge class and member tables into a tiny v2 mapping",
		Long: `Merges community class and member tables with an intermediary tiny
mapping into a two-namespace (intermediary, named) tiny v2 file. An output
ending in .jar is written as a jar holding mappings/mappings.tiny.

The output is not rewritten when no input has changed since it was made.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.started = true
			paths, err := a.resolveAll(append(append(append([]string(nil), classes...), members...), intermediary, outp))
			if err != nil {
				a.exitCode = ExitCode(err)
				return err
			}
			nc, nm := len(classes), len(members)
			logger, err := a.logger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			m := &mapping.Merger{Logger: logger, Options: mapping.Options{Strict: strict}}
			res, err := m.Merge(mapping.Input{
				ClassTables:  paths[:nc],
				MemberTables: paths[nc : nc+nm],
				Intermediary: paths[nc+nm],
				Output:       paths[nc+nm+1],
			})
			if err != nil {
				a.exitCode = ExitCode(err)
				return err
			}
			state := "written"
			if res.Skipped {
				state = "up to date"
			}
			fmt.Fprintf(a.Stdout, "%s (%s): %d classes, %d fields, %d methods, %d warnings\n",
				res.Output, state, res.Classes, res.Fields, res.Methods, res.Warnings)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&classes, "classes", nil, "class table (repeatable)")
	f.StringArrayVar(&members, "members", nil, "member table (repeatable)")
	f.StringVar(&intermediary, "intermediary", "", "intermediary tiny file or jar")
	f.StringVarP(&outp, "output", "o", "", "output file (.tiny or .jar)")
	f.BoolVar(&strict, "strict", false, "fail on fields without an intermediary descriptor")
	for _, name := range []string{"classes", "intermediary", "output"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func (a *App) fieldMapCommand() *cobra.Command {
	var classes, proguard, outp string
	cmd := &cobra.Command{
		Use:   "fieldmap",
		Short: "Generate a community field table from a proguard mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.started = true
			paths, err := a.resolveAll([]string{classes, proguard, outp})
			if err != nil {
				a.exitCode = ExitCode(err)
				return err
			}
			n, err := writeFieldMappings(paths[0], paths[1], paths[2])
			if err != nil {
				a.exitCode = ExitCode(err)
				return err
			}
			fmt.Fprintf(a.Stdout, "%s: %d fields\n", paths[2], n)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&classes, "classes", "", "class table")
	f.StringVar(&proguard, "proguard", "", "proguard mapping")
	f.StringVarP(&outp, "output", "o", "", "output field table")
	for _, name := range []string{"classes", "proguard", "output"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func writeFieldMappings(classPath, proguardPath, outPath string) (n int, err error) {
	classes, err := mapping.LoadClassTables(classPath)
	if err != nil {
		return 0, err
	}
	in, err := os.Open(proguardPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	out, err := os.Create(outPath)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	return mapping.GenerateFieldMappings(classes, in, out)
}

func (a *App) resolveAll(paths []string) ([]string, error) {
	out := make([]string, len(paths))
	for i, p := range paths {
		r, err := resolveUnderWorkDir(a.WorkDir, p)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func (a *App) logger() (*zap.Logger, error) {
	if a.Hooks.Logger != nil {
		return a.Hooks.Logger, nil
	}
	l, err := logging.New(logging.Options{Verbose: a.verbose})
	if err != nil {
		return nil, &internalError{err: err}
	}
	return l, nil
}

var errNoBuildData = errors.New("no build data archive cached; run build first")
