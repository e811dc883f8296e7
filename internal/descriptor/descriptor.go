// Package descriptor loads the build descriptor (info.json) carried at the top
// of a build data archive and expands its command templates.
package descriptor

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"

	"crusty/internal/archive"
)

// Archive layout.
const (
	InfoEntry   = "info.json"
	MappingsDir = "mappings"
	ToolsDir    = "bin"
)

// Default rename templates, used when the descriptor leaves them out.
const (
	DefaultClassMapCommand  = "java -jar BuildData/bin/SpecialSource-2.jar map -i {0} -m {1} -o {2}"
	DefaultMemberMapCommand = "java -jar BuildData/bin/SpecialSource-2.jar map -i {0} -m {1} -o {2}"
	DefaultFinalMapCommand  = "java -jar BuildData/bin/SpecialSource.jar --kill-lvt -i {0} --access-transformer {1} -m {2} -o {3}"
)

var (
	// ErrNoMappingSource means the descriptor names neither an authoritative
	// mapping URL nor a package mapping table.
	ErrNoMappingSource = errors.New("descriptor has neither mappingsUrl nor packageMappings")

	// ErrMissingField reports a required descriptor field that is empty.
	ErrMissingField = errors.New("missing descriptor field")
)

// Descriptor is the immutable build recipe of one build data revision.
type Descriptor struct {
	MinecraftVersion string `json:"minecraftVersion"`
	SpigotVersion    string `json:"spigotVersion"`
	ServerURL        string `json:"serverUrl"`
	MappingsURL      string `json:"mappingsUrl"`
	AccessTransforms string `json:"accessTransforms"`
	ClassMappings    string `json:"classMappings"`
	MemberMappings   string `json:"memberMappings"`
	PackageMappings  string `json:"packageMappings"`
	ClassMapCommand  string `json:"classMapCommand"`
	MemberMapCommand string `json:"memberMapCommand"`
	FinalMapCommand  string `json:"finalMapCommand"`
	DecompileCommand string `json:"decompileCommand"`
	ToolsVersion     int    `json:"toolsVersion"`
}

// MappingSource says how the final field/package mapping is produced.
type MappingSource int

const (
	// SourceAuthoritative derives field mappings from a downloaded proguard file.
	SourceAuthoritative MappingSource = iota + 1
	// SourcePackage copies the archive's package mapping table as is.
	SourcePackage
)

func (s MappingSource) String() string {
	switch s {
	case SourceAuthoritative:
		return "authoritative"
	case SourcePackage:
		return "package"
	default:
		return "unknown"
	}
}

// Parse decodes info.json content. Comments and trailing commas are allowed.
func Parse(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(jsonc.ToJSON(data), &d); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", InfoEntry, err)
	}
	d.applyDefaults()
	return &d, nil
}

// Load reads the descriptor of the build data archive at archivePath.
func Load(archivePath string) (*Descriptor, error) {
	data, err := archive.ReadEntry(archivePath, InfoEntry)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func (d *Descriptor) applyDefaults() {
	if d.ClassMapCommand == "" {
		d.ClassMapCommand = DefaultClassMapCommand
	}
	if d.MemberMapCommand == "" {
		d.MemberMapCommand = DefaultMemberMapCommand
	}
	if d.FinalMapCommand == "" {
		d.FinalMapCommand = DefaultFinalMapCommand
	}
}

// Validate checks required fields and that a mapping source exists.
func (d *Descriptor) Validate() error {
	var errs []error
	for _, f := range []struct{ name, value string }{
		{"minecraftVersion", d.MinecraftVersion},
		{"serverUrl", d.ServerURL},
		{"classMappings", d.ClassMappings},
		{"memberMappings", d.MemberMappings},
		{"accessTransforms", d.AccessTransforms},
	} {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingField, f.name))
		}
	}
	if _, err := d.MappingSource(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// MappingSource picks the final mapping strategy. An authoritative URL wins
// over a package table.
func (d *Descriptor) MappingSource() (MappingSource, error) {
	switch {
	case d.MappingsURL != "":
		return SourceAuthoritative, nil
	case d.PackageMappings != "":
		return SourcePackage, nil
	default:
		return 0, ErrNoMappingSource
	}
}

// ExcludeName is the archive name of this version's exclude list.
func (d *Descriptor) ExcludeName() string {
	return "bukkit-" + d.MinecraftVersion + ".exclude"
}

// MappingEntry returns the archive entry of a file under mappings/.
func MappingEntry(name string) string {
	return path.Join(MappingsDir, name)
}

// ClassTemplate returns the class rename template with the archive-relative
// exclude list path replaced by excludePath.
func (d *Descriptor) ClassTemplate(excludePath string) Template {
	return Template(strings.ReplaceAll(d.ClassMapCommand, "BuildData/mappings/"+d.ExcludeName(), excludePath))
}

// MemberTemplate returns the member rename template.
func (d *Descriptor) MemberTemplate() Template { return Template(d.MemberMapCommand) }

// FinalTemplate returns the final rename template.
func (d *Descriptor) FinalTemplate() Template { return Template(d.FinalMapCommand) }

// DecompileTemplate returns the decompiler template.
func (d *Descriptor) DecompileTemplate() Template { return Template(d.DecompileCommand) }

// Template is a command line with positional placeholders {0}..{n}.
type Template string

// Expand splits the template on whitespace, then replaces {i} in each word
// with args[i]. Arguments may contain spaces without being split.
func (t Template) Expand(args ...string) []string {
	words := strings.Fields(string(t))
	if len(args) == 0 {
		return words
	}
	pairs := make([]string, 0, 2*len(args))
	for i, a := range args {
		pairs = append(pairs, "{"+strconv.Itoa(i)+"}", a)
	}
	r := strings.NewReplacer(pairs...)
	for i, w := range words {
		words[i] = r.Replace(w)
	}
	return words
}
