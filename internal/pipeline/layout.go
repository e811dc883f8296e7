package pipeline

import (
	"fmt"
	"path/filepath"

	"crusty/internal/descriptor"
	"crusty/internal/fingerprint"
)

// Layout locates every artifact of one build data revision in the cache:
//
//	<root>/builddata/<h(url)>.zip
//	<root>/minecraft/<version>/{server.jar,mojmap.txt}
//	<root>/craftbukkit/<h(archive)>/...
//	<root>/intermediary/<version>.jar
type Layout struct {
	Root string
	// Key identifies the build data archive.
	Key       string
	BuildData string
	Minecraft string

	desc *descriptor.Descriptor
}

// NewLayout keys the build data directory on the archive's absolute path.
func NewLayout(root, archivePath string, d *descriptor.Descriptor) (Layout, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return Layout{}, fmt.Errorf("cache root: %w", err)
	}
	abs, err := filepath.Abs(archivePath)
	if err != nil {
		return Layout{}, fmt.Errorf("build data archive: %w", err)
	}
	key := fingerprint.OfString(abs).Short()
	return Layout{
		Root:      root,
		Key:       key,
		BuildData: filepath.Join(root, "craftbukkit", key),
		Minecraft: filepath.Join(root, "minecraft", d.MinecraftVersion),
		desc:      d,
	}, nil
}

// BuildDataArchive is where the archive fetched from url is cached.
func BuildDataArchive(root, url string) string {
	return filepath.Join(root, "builddata", fingerprint.OfString(url).Short()+".zip")
}

func (l Layout) ServerJar() string { return filepath.Join(l.Minecraft, "server.jar") }
func (l Layout) Mojmap() string    { return filepath.Join(l.Minecraft, "mojmap.txt") }

func (l Layout) Intermediary() string {
	return filepath.Join(l.Root, "intermediary", l.desc.MinecraftVersion+".jar")
}

func (l Layout) ClassTable() string       { return filepath.Join(l.BuildData, l.desc.ClassMappings) }
func (l Layout) MemberTable() string      { return filepath.Join(l.BuildData, l.desc.MemberMappings) }
func (l Layout) AccessTransforms() string { return filepath.Join(l.BuildData, l.desc.AccessTransforms) }
func (l Layout) Exclude() string          { return filepath.Join(l.BuildData, "bukkit.exclude") }

// Toolchain is where the archive's bin/ tree goes, so that templates
// referring to BuildData/bin/... resolve from the build data directory.
func (l Layout) Toolchain() string {
	return filepath.Join(l.BuildData, "BuildData", descriptor.ToolsDir)
}

func (l Layout) FieldMappings() string   { return filepath.Join(l.BuildData, "fields.csrg") }
func (l Layout) PackageMappings() string { return filepath.Join(l.BuildData, l.desc.PackageMappings) }
func (l Layout) Unified() string         { return filepath.Join(l.BuildData, "unified-mappings.jar") }
func (l Layout) ClassMapped() string     { return filepath.Join(l.BuildData, "class-mapped-server.jar") }
func (l Layout) MemberMapped() string    { return filepath.Join(l.BuildData, "member-mapped.jar") }
func (l Layout) FinalMapped() string     { return filepath.Join(l.BuildData, "final-mapped.jar") }
func (l Layout) FinalClasses() string    { return filepath.Join(l.BuildData, "final_classes") }
func (l Layout) FinalSources() string    { return filepath.Join(l.BuildData, "final_sources") }
func (l Layout) Stripped() string        { return filepath.Join(l.BuildData, "final-stripped.jar") }

// FinalMappings is the mapping handed to the final rename: the generated
// field table or the package table copied from the archive.
func (l Layout) FinalMappings() (string, error) {
	src, err := l.desc.MappingSource()
	if err != nil {
		return "", err
	}
	if src == descriptor.SourceAuthoritative {
		return l.FieldMappings(), nil
	}
	return l.PackageMappings(), nil
}

// Rel returns p relative to the cache root, slash separated.
func (l Layout) Rel(p string) string {
	rel, err := filepath.Rel(l.Root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}
