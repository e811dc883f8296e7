package mapping

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
)

var proguardMember = regexp.MustCompile(`(?:\d+:\d+:)?(.*?) (.*?) -> (.*)`)

// GenerateFieldMappings converts a proguard mapping into a community field
// table and writes it to w: the class table's header first, then sorted
// "communityClass obfField namedField" lines. Only fields are emitted.
// Blocks whose class cannot be resolved are skipped, as are synthetic
// ("$") names. Obfuscated names that collide with the keywords if and do
// get a trailing underscore. It returns the number of field lines written.
func GenerateFieldMappings(classes *ClassTable, proguard io.Reader, w io.Writer) (int, error) {
	var lines []string
	current := ""

	sc := bufio.NewScanner(proguard)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasSuffix(line, ":") {
			current = ""
			_, obf, ok := strings.Cut(line, " -> ")
			if !ok {
				continue
			}
			obf = strings.ReplaceAll(strings.TrimSuffix(obf, ":"), ".", "/")
			if community, ok := classes.CommunityNested(obf); ok {
				current = community
			}
			continue
		}
		if current == "" {
			continue
		}

		m := proguardMember.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name, obf := m[2], m[3]
		if strings.Contains(name, "(") || strings.Contains(name, "$") {
			continue
		}
		if obf == "if" || obf == "do" {
			obf += "_"
		}
		lines = append(lines, current+" "+obf+" "+name)
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("reading proguard mapping: %w", err)
	}
	sort.Strings(lines)

	bw := bufio.NewWriter(w)
	for _, h := range classes.Header {
		bw.WriteString(h)
		bw.WriteByte('\n')
	}
	for _, l := range lines {
		bw.WriteString(l)
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return len(lines), nil
}
