// Package pipeline sequences the build: fetch the server and mappings, stage
// the build data tables, produce the final mapping, rename three times and
// finish with either decompiled sources or a stripped jar. Every stage output
// is gated by the marker protocol of package stage, so an interrupted run
// resumes at the stage that did not finish.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"crusty/internal/config"
	"crusty/internal/descriptor"
	"crusty/internal/fetch"
	"crusty/internal/fingerprint"
	"crusty/internal/logging"
	"crusty/internal/mapping"
	"crusty/internal/recovery/state"
	"crusty/internal/stage"
	"crusty/internal/tool"
	"crusty/internal/trace"
)

// Stage names, as recorded in traces and failure records. Builtin rename
// tools are registered under the name of their stage.
const (
	StageFetchBuildData    = "fetch-builddata"
	StageFetchServer       = "fetch-server"
	StageClassTable        = "stage-class-table"
	StageMemberTable       = "stage-member-table"
	StageAccessTransforms  = "stage-access-transforms"
	StageExcludeList       = "stage-exclude-list"
	StageToolchain         = "stage-toolchain"
	StageFetchMappings     = "fetch-mappings"
	StageMergedMapping     = "merged-mapping"
	StageCopyMapping       = "copy-mapping"
	StageFetchIntermediary = "fetch-intermediary"
	StageUnifiedMapping    = "unified-mapping"
	StageRenameClasses     = "rename-classes"
	StageRenameMembers     = "rename-members"
	StageRenameFinal       = "rename-final"
	StageUnpack            = "unpack"
	StageDecompile         = "decompile"
	StageStrip             = "strip"
)

// Request selects what to build.
type Request struct {
	// Archive is a local build data archive. When empty the archive is
	// fetched, at Commit if set, otherwise the latest revision.
	Archive string
	Commit  string
	// Sources asks for decompiled sources instead of a stripped jar.
	Sources bool
}

// Result describes a run. Run returns it alongside a failure too, with the
// trace of the stages that ran.
type Result struct {
	Output     string
	Archive    string
	Layout     Layout
	Descriptor *descriptor.Descriptor
	// Unified is set when the unified mapping stage ran its merge.
	Unified *mapping.Result
	Trace   trace.StageTrace
}

// Step is one gated stage of a plan.
type Step struct {
	Stage    string
	Artifact string
	build    func(ctx context.Context) error
}

// Pipeline runs builds against one cache directory.
type Pipeline struct {
	Config     *config.Config
	Logger     *zap.Logger
	Downloader *fetch.Downloader
	Builtins   *tool.Registry
}

// New wires a pipeline from cfg with the archive builtins registered.
func New(cfg *config.Config, logger *zap.Logger) *Pipeline {
	f := fetch.New(logger, cfg.HTTP.Timeout, cfg.HTTP.UserAgent)
	return &Pipeline{
		Config:     cfg,
		Logger:     logger,
		Downloader: &fetch.Downloader{Fetcher: f, Offline: cfg.Offline},
		Builtins:   tool.DefaultRegistry(),
	}
}

// BuildDataURL returns the archive URL for commit, or the latest one.
func (p *Pipeline) BuildDataURL(commit string) string {
	if commit == "" {
		return p.Config.BuildData.LatestURL
	}
	return fmt.Sprintf(p.Config.BuildData.CommitURL, commit)
}

// Run executes every stage of the plan for req in order and stops at the
// first failure. Failures are *state.StageFailureError or, for an unusable
// descriptor, *state.ConfigFailureError.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	log := logging.OrNop(p.Logger)
	r := &run{p: p, log: log, sources: req.Sources, events: trace.NewRecorder(), cache: stage.New(log)}
	res := &Result{}
	key := ""
	defer func() {
		if key == "" {
			key = "unknown"
		}
		res.Trace = r.events.Trace(key)
	}()

	archivePath := req.Archive
	if archivePath == "" {
		url := p.BuildDataURL(req.Commit)
		key = fingerprint.OfString(url).Short()
		archivePath = BuildDataArchive(p.Config.CacheDir, url)
		r.layout = Layout{Root: p.Config.CacheDir}
		step := Step{Stage: StageFetchBuildData, Artifact: archivePath, build: func(ctx context.Context) error {
			log.Info("Downloading build data", zap.String("url", url))
			_, err := p.Downloader.Download(ctx, archivePath, url, false)
			return err
		}}
		if err := r.gate(ctx, step); err != nil {
			return res, err
		}
	}
	res.Archive = archivePath

	d, err := descriptor.Load(archivePath)
	if err == nil {
		err = d.Validate()
	}
	if err != nil {
		return res, &state.ConfigFailureError{Code: configCode(err), Message: err.Error(), Cause: err}
	}
	res.Descriptor = d

	layout, err := NewLayout(p.Config.CacheDir, archivePath, d)
	if err != nil {
		return res, &state.ConfigFailureError{Code: "CacheLayout", Message: err.Error(), Cause: err}
	}
	key = layout.Key
	res.Layout = layout
	r.layout, r.desc, r.archive = layout, d, archivePath

	log = log.With(zap.String("minecraft", d.MinecraftVersion), zap.String("builddata", layout.Key))
	r.log = log
	log.Info("Building", zap.Bool("sources", req.Sources))

	steps, err := r.steps()
	if err != nil {
		return res, err
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return res, &state.SystemFailureError{Code: "Interrupted", Message: err.Error(), Cause: err}
		}
		if err := r.gate(ctx, s); err != nil {
			return res, err
		}
	}
	res.Output = steps[len(steps)-1].Artifact
	res.Unified = r.unified
	log.Info("Build complete", zap.String("output", res.Output))
	return res, nil
}

// Plan lists the stages a run of req would gate, without running them.
func Plan(cfg *config.Config, layout Layout, d *descriptor.Descriptor, sources bool) ([]Step, error) {
	r := &run{p: &Pipeline{Config: cfg}, layout: layout, desc: d, sources: sources}
	return r.steps()
}

func configCode(err error) string {
	switch {
	case errors.Is(err, descriptor.ErrNoMappingSource):
		return "NoMappingSource"
	case errors.Is(err, descriptor.ErrMissingField):
		return "MissingDescriptorField"
	case errors.Is(err, os.ErrNotExist):
		return "MissingBuildData"
	default:
		return "InvalidDescriptor"
	}
}

type run struct {
	p       *Pipeline
	log     *zap.Logger
	cache   *stage.Cache
	events  *trace.Recorder
	layout  Layout
	desc    *descriptor.Descriptor
	archive string
	sources bool
	unified *mapping.Result
}

// gate runs s behind its artifact's marker and records the outcome.
func (r *run) gate(ctx context.Context, s Step) error {
	rel := r.layout.Rel(s.Artifact)
	outcome, err := r.cache.Run(s.Artifact, func() error {
		defer logging.Timer(r.log, "Stage done", zap.String("stage", s.Stage))()
		return s.build(ctx)
	})
	if err != nil {
		r.record(trace.Event{Kind: trace.EventStageFailed, Stage: s.Stage, Artifact: rel, Reason: string(state.Classify(err))})
		return &state.StageFailureError{Stage: s.Stage, Cause: err}
	}

	var kind trace.EventKind
	switch outcome {
	case stage.OutcomeSkipped:
		kind = trace.EventStageSkipped
		r.log.Debug("Stage up to date", zap.String("stage", s.Stage))
	case stage.OutcomeRecovered:
		kind = trace.EventStageRecovered
	default:
		kind = trace.EventStageBuilt
	}
	r.record(trace.Event{Kind: kind, Stage: s.Stage, Artifact: rel})
	return nil
}

func (r *run) record(e trace.Event) {
	r.events.Record(e)
}
