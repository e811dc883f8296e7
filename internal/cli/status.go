package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"crusty/internal/descriptor"
	"crusty/internal/pipeline"
	"crusty/internal/recovery/state"
	"crusty/internal/stage"
	"crusty/internal/trace"
)

func (a *App) statusCommand() *cobra.Command {
	var archivePath, commit string
	var sources bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of every stage and the last run",
		Long: `Lists each pipeline stage with the state of its artifact: built,
claimed (a marker was left by a run that did not finish; the stage is
redone next time) or missing. Nothing is downloaded or modified.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a.started = true
			inv, err := BuildInvocation{
				WorkDir:    a.WorkDir,
				ConfigPath: a.configPath,
				CacheDir:   a.cacheDir,
				Archive:    archivePath,
				Commit:     commit,
				Sources:    sources,
			}.Canonicalize()
			if err != nil {
				a.exitCode = ExitCode(err)
				return err
			}
			err = a.status(inv)
			a.exitCode = ExitCode(err)
			return err
		},
	}
	f := cmd.Flags()
	f.StringVar(&archivePath, "archive", "", "local build data archive")
	f.StringVar(&commit, "commit", "", "build data commit")
	f.BoolVar(&sources, "sources", false, "show the sources plan instead of the jar plan")
	return cmd
}

func (a *App) status(inv BuildInvocation) error {
	cfg, err := loadConfig(inv.ConfigPath, inv.CacheDir)
	if err != nil {
		return err
	}

	archivePath := inv.Archive
	if archivePath == "" {
		p := &pipeline.Pipeline{Config: cfg}
		archivePath = pipeline.BuildDataArchive(cfg.CacheDir, p.BuildDataURL(inv.Commit))
	}
	d, err := descriptor.Load(archivePath)
	if errors.Is(err, os.ErrNotExist) {
		return &state.ConfigFailureError{Code: "MissingBuildData", Message: errNoBuildData.Error(), Cause: errNoBuildData}
	}
	if err != nil {
		return &state.ConfigFailureError{Code: "InvalidDescriptor", Message: err.Error(), Cause: err}
	}
	layout, err := pipeline.NewLayout(cfg.CacheDir, archivePath, d)
	if err != nil {
		return err
	}
	steps, err := pipeline.Plan(cfg, layout, d, inv.Sources)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.Stdout, "build data %s (minecraft %s, key %s)\n", archivePath, d.MinecraftVersion, layout.Key)
	tw := tabwriter.NewWriter(a.Stdout, 0, 4, 2, ' ', 0)
	for _, s := range steps {
		st, err := stage.Inspect(s.Artifact)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Stage, st, layout.Rel(s.Artifact), sizeOf(s.Artifact, st))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return a.lastRun(cfg.CacheDir, a.Stdout)
}

func sizeOf(path string, st stage.State) string {
	if st != stage.StateBuilt {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return ""
	}
	return humanize.IBytes(uint64(info.Size()))
}

func (a *App) lastRun(cacheDir string, w io.Writer) error {
	st, err := state.NewStore(cacheDir)
	if err != nil {
		return err
	}
	id, err := st.LatestRunID()
	if err != nil || id == "" {
		return err
	}
	run, err := st.LoadRun(id)
	if err != nil {
		return err
	}
	when := humanize.Time(run.StartTime)
	fmt.Fprintf(w, "last run %s %s (%s, %s)\n", id, run.Status, run.Mode, when)
	if tr, err := st.LoadTrace(id); err == nil {
		fmt.Fprintf(w, "  stages: %d built, %d recovered, %d skipped\n",
			len(tr.Stages(trace.EventStageBuilt)),
			len(tr.Stages(trace.EventStageRecovered)),
			len(tr.Stages(trace.EventStageSkipped)))
	}
	if run.Status != state.RunStatusFailed {
		return nil
	}
	f, err := st.LoadFailure(id)
	if err != nil {
		return nil
	}
	where := ""
	if f.Stage != nil {
		where = " in " + *f.Stage
	}
	fmt.Fprintf(w, "  %s failure%s: %s\n", f.FailureClass, where, f.ErrorMessage)
	return nil
}
