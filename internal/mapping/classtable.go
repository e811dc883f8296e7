package mapping

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// ClassTable is a class rename table held as two directional maps built
// together at load time. It is not modified afterwards.
type ClassTable struct {
	// Header holds the leading "#" lines verbatim.
	Header []string

	toCommunity map[string]string // obfuscated -> community
	toObf       map[string]string // community -> obfuscated
	order       []string          // obfuscated names in load order
}

// NewClassTable returns an empty table.
func NewClassTable() *ClassTable {
	return &ClassTable{
		toCommunity: make(map[string]string),
		toObf:       make(map[string]string),
	}
}

// LoadClassTables reads and combines the class tables at paths.
func LoadClassTables(paths ...string) (*ClassTable, error) {
	ct := NewClassTable()
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("opening class table: %w", err)
		}
		err = ct.read(f, p)
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	return ct, nil
}

// ParseClassTable reads one class table. source names r in errors.
func ParseClassTable(r io.Reader, source string) (*ClassTable, error) {
	ct := NewClassTable()
	if err := ct.read(r, source); err != nil {
		return nil, err
	}
	return ct, nil
}

func (ct *ClassTable) read(r io.Reader, source string) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if strings.HasPrefix(text, "#") {
			ct.Header = append(ct.Header, text)
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			continue
		}
		if err := ct.Add(fields[0], fields[1]); err != nil {
			return &ParseError{Source: source, Line: line, Err: err}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", source, err)
	}
	return nil
}

// Add records obf <-> community. Repeating an identical pair is allowed;
// mapping either name to something else is ErrDuplicateMapping.
func (ct *ClassTable) Add(obf, community string) error {
	prevCommunity, hasObf := ct.toCommunity[obf]
	prevObf, hasCommunity := ct.toObf[community]
	switch {
	case hasObf && prevCommunity == community:
		return nil
	case hasObf:
		return fmt.Errorf("%w: %s maps to both %s and %s", ErrDuplicateMapping, obf, prevCommunity, community)
	case hasCommunity:
		return fmt.Errorf("%w: %s is the target of both %s and %s", ErrDuplicateMapping, community, prevObf, obf)
	}
	ct.toCommunity[obf] = community
	ct.toObf[community] = obf
	ct.order = append(ct.order, obf)
	return nil
}

// Len returns the number of class pairs.
func (ct *ClassTable) Len() int { return len(ct.toCommunity) }

// Community returns the community name of an obfuscated class.
func (ct *ClassTable) Community(obf string) (string, bool) {
	name, ok := ct.toCommunity[obf]
	return name, ok
}

// Obfuscated returns the obfuscated name of a community class.
func (ct *ClassTable) Obfuscated(community string) (string, bool) {
	name, ok := ct.toObf[community]
	return name, ok
}

// CommunityNested resolves an obfuscated name through nested-class resolution.
func (ct *ClassTable) CommunityNested(obf string) (string, bool) {
	return ResolveNested(ct.toCommunity, obf)
}

// ObfuscatedNested resolves a community name through nested-class resolution.
func (ct *ClassTable) ObfuscatedNested(community string) (string, bool) {
	return ResolveNested(ct.toObf, community)
}

// Each calls fn for every pair in load order.
func (ct *ClassTable) Each(fn func(obf, community string)) {
	for _, obf := range ct.order {
		fn(obf, ct.toCommunity[obf])
	}
}

// ResolveNested looks name up in table. When absent it strips trailing
// "$Inner" segments one at a time until an outer class matches, then
// re-attaches the stripped segments to the match:
//
//	table {A$B: X$Y}, name A$B$C  ->  X$Y$C
//
// It reports false if no nesting level matches.
func ResolveNested(table map[string]string, name string) (string, bool) {
	if mapped, ok := table[name]; ok {
		return mapped, true
	}
	outer := name
	for {
		idx := strings.LastIndexByte(outer, '$')
		if idx < 0 {
			return "", false
		}
		outer = outer[:idx]
		if mapped, ok := table[outer]; ok {
			return mapped + name[idx:], true
		}
	}
}
