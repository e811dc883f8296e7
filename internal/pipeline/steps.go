package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"crusty/internal/archive"
	"crusty/internal/config"
	"crusty/internal/descriptor"
	"crusty/internal/mapping"
	"crusty/internal/recovery/state"
	"crusty/internal/tool"
)

// steps builds the ordered plan. Only the mapping source and the terminal
// stage vary between plans.
func (r *run) steps() ([]Step, error) {
	l, d, cfg := r.layout, r.desc, r.p.Config

	src, err := d.MappingSource()
	if err != nil {
		return nil, &state.ConfigFailureError{Code: "NoMappingSource", Message: err.Error(), Cause: err}
	}
	finalMappings, _ := l.FinalMappings()

	steps := []Step{
		{StageFetchServer, l.ServerJar(), func(ctx context.Context) error {
			r.log.Info("Downloading server jar")
			_, err := r.p.Downloader.Download(ctx, l.ServerJar(), d.ServerURL, false)
			return err
		}},
		r.copyStep(StageClassTable, d.ClassMappings, l.ClassTable()),
		r.copyStep(StageMemberTable, d.MemberMappings, l.MemberTable()),
		r.copyStep(StageAccessTransforms, d.AccessTransforms, l.AccessTransforms()),
		r.copyStep(StageExcludeList, d.ExcludeName(), l.Exclude()),
		{StageToolchain, l.Toolchain(), func(context.Context) error {
			if err := os.MkdirAll(l.Toolchain(), 0o755); err != nil {
				return err
			}
			n, err := archive.ExtractTree(r.archive, descriptor.ToolsDir, l.Toolchain())
			r.log.Debug("Extracted toolchain", zap.Int("files", n))
			return err
		}},
	}

	switch src {
	case descriptor.SourceAuthoritative:
		steps = append(steps,
			Step{StageFetchMappings, l.Mojmap(), func(ctx context.Context) error {
				r.log.Info("Downloading authoritative mappings")
				_, err := r.p.Downloader.Download(ctx, l.Mojmap(), d.MappingsURL, true)
				return err
			}},
			Step{StageMergedMapping, l.FieldMappings(), r.fieldMappings},
		)
	case descriptor.SourcePackage:
		steps = append(steps, r.copyStep(StageCopyMapping, d.PackageMappings, l.PackageMappings()))
	}

	if cfg.Intermediary.Enabled {
		url := cfg.IntermediaryURL(d.MinecraftVersion)
		steps = append(steps,
			Step{StageFetchIntermediary, l.Intermediary(), func(ctx context.Context) error {
				r.log.Info("Downloading intermediary mappings", zap.String("url", url))
				_, err := r.p.Downloader.Download(ctx, l.Intermediary(), url, false)
				return err
			}},
			Step{StageUnifiedMapping, l.Unified(), r.unifiedMapping},
		)
	}

	steps = append(steps,
		r.toolStep(StageRenameClasses, l.ClassMapped(), cfg.Tools.ClassRename,
			d.ClassTemplate(l.Exclude()), l.ServerJar(), l.ClassTable(), l.ClassMapped()),
		r.toolStep(StageRenameMembers, l.MemberMapped(), cfg.Tools.MemberRename,
			d.MemberTemplate(), l.ClassMapped(), l.MemberTable(), l.MemberMapped()),
		r.toolStep(StageRenameFinal, l.FinalMapped(), cfg.Tools.FinalRename,
			d.FinalTemplate(), l.MemberMapped(), l.AccessTransforms(), finalMappings, l.FinalMapped()),
	)

	if r.sources {
		steps = append(steps,
			r.builtinStep(StageUnpack, l.FinalClasses(), tool.BuiltinUnzip, l.FinalMapped(), l.FinalClasses(), cfg.StripPrefix),
			r.decompileStep(),
		)
	} else {
		steps = append(steps,
			r.builtinStep(StageStrip, l.Stripped(), tool.BuiltinStrip, l.FinalMapped(), l.Stripped(), cfg.StripPrefix),
		)
	}
	return steps, nil
}

// copyStep stages mappings/<name> from the archive.
func (r *run) copyStep(name, entry, dest string) Step {
	return Step{name, dest, func(context.Context) error {
		return archive.CopyEntry(r.archive, descriptor.MappingEntry(entry), dest)
	}}
}

func (r *run) fieldMappings(context.Context) error {
	r.log.Info("Creating field mappings")
	classes, err := mapping.LoadClassTables(r.layout.ClassTable())
	if err != nil {
		return err
	}
	in, err := os.Open(r.layout.Mojmap())
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(r.layout.FieldMappings())
	if err != nil {
		return err
	}
	n, err := mapping.GenerateFieldMappings(classes, in, out)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("writing %s: %w", r.layout.FieldMappings(), err)
	}
	r.log.Debug("Wrote field mappings", zap.Int("fields", n))
	return nil
}

func (r *run) unifiedMapping(context.Context) error {
	m := &mapping.Merger{
		Logger:  r.log,
		Options: mapping.Options{Strict: r.p.Config.Strict},
	}
	res, err := m.Merge(mapping.Input{
		ClassTables:  []string{r.layout.ClassTable()},
		MemberTables: []string{r.layout.MemberTable()},
		Intermediary: r.layout.Intermediary(),
		Output:       r.layout.Unified(),
	})
	if err != nil {
		return err
	}
	r.unified = res
	r.log.Info("Unified mapping",
		zap.Int("classes", res.Classes), zap.Int("fields", res.Fields),
		zap.Int("methods", res.Methods), zap.Int("warnings", res.Warnings))
	return nil
}

// toolStep runs a rename through the configured tool. A process receives the
// expanded template; a builtin receives the paths themselves.
func (r *run) toolStep(name, artifact string, kind config.ToolKind, tmpl descriptor.Template, paths ...string) Step {
	return Step{name, artifact, func(ctx context.Context) error {
		t, err := tool.Select(kind, name, r.process(), r.p.Builtins)
		if err != nil {
			return err
		}
		args := paths
		if kind != config.ToolBuiltin {
			args = tmpl.Expand(paths...)
		}
		r.log.Info("Running tool", zap.String("stage", name), zap.Strings("args", args))
		return tool.Invoke(ctx, t, name, args)
	}}
}

func (r *run) builtinStep(name, artifact, builtin string, args ...string) Step {
	return Step{name, artifact, func(ctx context.Context) error {
		if name == StageUnpack {
			if err := os.MkdirAll(artifact, 0o755); err != nil {
				return err
			}
		}
		t, err := tool.Select(config.ToolBuiltin, builtin, nil, r.p.Builtins)
		if err != nil {
			return err
		}
		return tool.Invoke(ctx, t, name, args)
	}}
}

func (r *run) decompileStep() Step {
	l := r.layout
	kind := r.p.Config.Tools.Decompile
	tmpl := r.desc.DecompileTemplate()
	inner := r.toolStep(StageDecompile, l.FinalSources(), kind, tmpl, l.FinalClasses(), l.FinalSources())
	return Step{StageDecompile, l.FinalSources(), func(ctx context.Context) error {
		if kind != config.ToolBuiltin && tmpl == "" {
			return &state.ConfigFailureError{Code: "MissingDescriptorField", Message: "descriptor has no decompileCommand", Cause: errNoDecompiler}
		}
		if err := os.MkdirAll(l.FinalSources(), 0o755); err != nil {
			return err
		}
		return inner.build(ctx)
	}}
}

var errNoDecompiler = errors.New("no decompile command")

// process runs tools from the build data directory, where BuildData/bin
// has been staged.
func (r *run) process() *tool.Process {
	return &tool.Process{Dir: r.layout.BuildData, Logger: r.log.Named("tool")}
}
