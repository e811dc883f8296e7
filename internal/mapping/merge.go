package mapping

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"crusty/internal/diagnostic"
	"crusty/internal/fingerprint"
	"crusty/internal/logging"
)

// Namespaces of the unified mapping.
const (
	NamespaceIntermediary = "intermediary"
	NamespaceNamed        = "named"
)

// Options tunes MergeTables.
type Options struct {
	// Strict turns an unresolved field descriptor into ErrUnresolvedMember
	// instead of a warning.
	Strict bool
	// RemapCacheSize bounds the descriptor memo. Zero uses the default.
	RemapCacheSize int
}

// Merged is the in-memory product of MergeTables.
type Merged struct {
	Tree        *Tree
	Diagnostics diagnostic.Diagnostics
	Classes     int
	Fields      int
	Methods     int
}

type record struct {
	name     string
	desc     string // obfuscated namespace
	dest     string
	isMethod bool
}

type classEntry struct {
	dest    string
	records []record
}

// MergeTables combines a class table, member table lines and an intermediary
// tree into a two-namespace (intermediary, named) tree.
func MergeTables(classes *ClassTable, members []MemberLine, intermediary *Tree, opts Options) (*Merged, error) {
	interNs, err := intermediary.RequireNamespace(NamespaceIntermediary)
	if err != nil {
		return nil, err
	}
	remap, err := NewRemapper(classes.Obfuscated, opts.RemapCacheSize)
	if err != nil {
		return nil, err
	}

	out := &Merged{}
	entries := make(map[string]*classEntry, classes.Len())
	classes.Each(func(obf, community string) {
		entries[obf] = &classEntry{dest: community}
	})
	entryFor := func(obf, dest string) *classEntry {
		e, ok := entries[obf]
		if !ok {
			e = &classEntry{dest: dest}
			entries[obf] = e
		}
		return e
	}

	for _, ml := range members {
		if ml.IsMethod {
			obf, dest, ok := resolveOwner(classes, ml.Owner, false)
			if !ok {
				return nil, fmt.Errorf("%s: %w %s", ml.Location(), ErrUnresolvedClass, ml.Owner)
			}
			e := entryFor(obf, dest)
			e.records = append(e.records, record{name: ml.Name, desc: remap.Descriptor(ml.Desc), dest: ml.Dest, isMethod: true})
			continue
		}

		obf, dest, ok := resolveOwner(classes, ml.Owner, true)
		if !ok {
			return nil, fmt.Errorf("%s: %w %s", ml.Location(), ErrUnresolvedClass, ml.Owner)
		}
		e := entryFor(obf, dest)

		name := ml.Name
		field := intermediary.Field(obf, name, "")
		if field == nil {
			if alt := strings.ReplaceAll(name, "_", ""); alt != name && isJavaKeyword(alt) {
				if field = intermediary.Field(obf, alt, ""); field != nil {
					name = alt
				}
			}
		}
		if field == nil {
			if opts.Strict {
				return nil, fmt.Errorf("%s: %w: no descriptor for field %s.%s (%s.%s)",
					ml.Location(), ErrUnresolvedMember, obf, ml.Name, ml.Owner, ml.Dest)
			}
			out.Diagnostics.AddWarning(diagnostic.CodeUnresolvedField, ml.Location(),
				"no descriptor for field %s.%s (%s.%s)", obf, ml.Name, ml.Owner, ml.Dest)
			continue
		}
		e.records = append(e.records, record{name: name, desc: field.Desc, dest: ml.Dest})
	}

	obfNames := make([]string, 0, len(entries))
	for obf := range entries {
		obfNames = append(obfNames, obf)
	}
	sort.Strings(obfNames)

	tree := NewTree(NamespaceIntermediary, NamespaceNamed)
	for _, obf := range obfNames {
		e := entries[obf]
		cls := tree.AddClass(intermediary.ClassName(obf, interNs), e.dest)
		for _, r := range e.records {
			var m *Member
			if r.isMethod {
				m = intermediary.Method(obf, r.name, r.desc)
			} else {
				m = intermediary.Field(obf, r.name, r.desc)
			}
			if m == nil {
				out.Diagnostics.Add(diagnostic.Diagnostic{
					Severity: diagnostic.Info,
					Code:     diagnostic.CodeMissingMember,
					Message:  fmt.Sprintf("%s.%s%s has no intermediary member", obf, r.name, r.desc),
				})
				continue
			}
			desc := intermediary.MapDescriptor(m.Desc, interNs)
			if r.isMethod {
				cls.AddMethod(desc, m.Name(interNs), r.dest)
				out.Methods++
			} else {
				cls.AddField(desc, m.Name(interNs), r.dest)
				out.Fields++
			}
		}
	}
	out.Tree = tree
	out.Classes = len(obfNames)
	return out, nil
}

// resolveOwner maps a member table owner to its obfuscated class and the
// destination name for a class entry created on its behalf. Fields may use
// nested-class resolution in either direction; methods use direct lookup
// only. An owner that is already an obfuscated class name is kept as is.
func resolveOwner(classes *ClassTable, owner string, nested bool) (obf, dest string, ok bool) {
	if nested {
		if obf, ok = classes.ObfuscatedNested(owner); ok {
			return obf, owner, true
		}
		if dest, ok = classes.CommunityNested(owner); ok {
			return owner, dest, true
		}
		return "", "", false
	}
	if obf, ok = classes.Obfuscated(owner); ok {
		return obf, owner, true
	}
	if dest, ok = classes.Community(owner); ok {
		return owner, dest, true
	}
	return "", "", false
}

var javaKeywords = map[string]struct{}{}

func init() {
	for _, k := range strings.Fields(`abstract assert boolean break byte case catch char class const
		continue default do double else enum extends final finally float for goto if implements
		import instanceof int interface long native new package private protected public return
		short static strictfp super switch synchronized this throw throws transient try void
		volatile while true false null _`) {
		javaKeywords[k] = struct{}{}
	}
}

func isJavaKeyword(s string) bool {
	_, ok := javaKeywords[s]
	return ok
}

// Input names the files of one merge.
type Input struct {
	ClassTables  []string
	MemberTables []string
	// Intermediary is a tiny file, raw or jar-packaged.
	Intermediary string
	// Output is written as a jar when it ends in .jar, as raw tiny otherwise.
	Output string
}

func (in Input) files() []string {
	files := make([]string, 0, len(in.ClassTables)+len(in.MemberTables)+1)
	files = append(files, in.ClassTables...)
	files = append(files, in.MemberTables...)
	return append(files, in.Intermediary)
}

// Result reports a file merge.
type Result struct {
	Output      string
	Skipped     bool
	Hash        fingerprint.Sum
	Diagnostics diagnostic.Diagnostics
	Warnings    int
	Classes     int
	Fields      int
	Methods     int
}

// Merger runs MergeTables over files and caches the output behind a stamp
// holding the fingerprint of its inputs.
type Merger struct {
	Logger  *zap.Logger
	Options Options
}

// Merge writes in.Output unless its stamp already matches the inputs' paths
// and modification times and the strictness of the merge that wrote it.
func (m *Merger) Merge(in Input) (*Result, error) {
	log := logging.OrNop(m.Logger)
	if in.Output == "" || in.Intermediary == "" {
		return nil, errors.New("merge needs an intermediary and an output")
	}

	inputs, err := fingerprint.Files(in.files()...)
	if err != nil {
		return nil, err
	}
	// A lenient output may have dropped fields a strict merge must reject.
	hash := fingerprint.New().String("strict=" + strconv.FormatBool(m.Options.Strict)).String(inputs.String()).Sum()
	res := &Result{Output: in.Output, Hash: hash}

	prev, err := readStamp(in.Output)
	if err != nil {
		return nil, err
	}
	if prev != nil && prev.Hash == hash.String() {
		if _, err := os.Stat(in.Output); err == nil {
			log.Debug("Unified mapping up to date", zap.String("output", in.Output), zap.String("hash", hash.Short()))
			res.Skipped = true
			res.Classes, res.Fields, res.Methods = prev.Classes, prev.Fields, prev.Methods
			res.Warnings = prev.Warnings
			return res, nil
		}
	}

	defer logging.Timer(log, "Merged mappings", zap.String("output", in.Output))()

	classes, err := LoadClassTables(in.ClassTables...)
	if err != nil {
		return nil, err
	}
	members, err := LoadMemberTables(in.MemberTables...)
	if err != nil {
		return nil, err
	}
	tree, err := LoadTree(in.Intermediary)
	if err != nil {
		return nil, err
	}

	merged, err := MergeTables(classes, members, tree, m.Options)
	if err != nil {
		return nil, err
	}

	write := WriteTiny
	if strings.EqualFold(filepath.Ext(in.Output), ".jar") {
		write = WriteTinyJar
	}
	if err := writeAtomic(in.Output, func(w io.Writer) error { return write(w, merged.Tree) }); err != nil {
		return nil, fmt.Errorf("writing %s: %w", in.Output, err)
	}
	res.Diagnostics = merged.Diagnostics
	res.Warnings = len(merged.Diagnostics.Warnings)
	if err := writeStamp(in.Output, stamp{
		Hash:     hash.String(),
		Classes:  merged.Classes,
		Fields:   merged.Fields,
		Methods:  merged.Methods,
		Warnings: res.Warnings,
	}); err != nil {
		return nil, err
	}

	res.Classes, res.Fields, res.Methods = merged.Classes, merged.Fields, merged.Methods
	if res.Warnings > 0 {
		log.Warn("Some fields have no intermediary descriptor and were dropped",
			zap.Int("count", merged.Diagnostics.Count(diagnostic.CodeUnresolvedField)))
		for _, d := range merged.Diagnostics.Warnings {
			log.Debug(d.String())
		}
	}
	return res, nil
}

func writeAtomic(path string, write func(io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()
	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
