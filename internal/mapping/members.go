package mapping

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// MemberLine is one entry of a member rename table. Owner and Desc are in
// the community namespace; Name is the obfuscated member name.
type MemberLine struct {
	Owner    string
	Name     string
	Desc     string // empty for fields
	Dest     string
	IsMethod bool

	Source string
	Line   int
}

// Location returns "source:line" for diagnostics.
func (m MemberLine) Location() string {
	return m.Source + ":" + strconv.Itoa(m.Line)
}

// ParseMemberTable reads a member table. Three tokens form a field
// (owner name dest) and four a method (owner name desc dest). Blank lines,
// "#" lines and other arities are ignored.
func ParseMemberTable(r io.Reader, source string) ([]MemberLine, error) {
	var out []MemberLine
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" || text[0] == '#' {
			continue
		}
		f := strings.Fields(text)
		switch len(f) {
		case 3:
			out = append(out, MemberLine{Owner: f[0], Name: f[1], Dest: f[2], Source: source, Line: line})
		case 4:
			out = append(out, MemberLine{Owner: f[0], Name: f[1], Desc: f[2], Dest: f[3], IsMethod: true, Source: source, Line: line})
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", source, err)
	}
	return out, nil
}

// LoadMemberTables reads every member table at paths, in order.
func LoadMemberTables(paths ...string) ([]MemberLine, error) {
	var out []MemberLine
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("opening member table: %w", err)
		}
		lines, err := ParseMemberTable(f, p)
		f.Close()
		if err != nil {
			return nil, err
		}
		out = append(out, lines...)
	}
	return out, nil
}
