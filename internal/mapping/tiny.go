package mapping

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"crusty/internal/archive"
)

// TinyEntry is where a jar-packaged tiny file lives.
const TinyEntry = "mappings/mappings.tiny"

var errBadHeader = errors.New("not a tiny v1 or v2 file")

// LoadTree reads a tiny file at path, which may be raw text or a jar
// holding TinyEntry.
func LoadTree(path string) (*Tree, error) {
	isJar, err := archive.IsZip(path)
	if err != nil {
		return nil, fmt.Errorf("opening intermediary: %w", err)
	}
	if isJar {
		data, err := archive.ReadEntry(path, TinyEntry)
		if err != nil {
			return nil, err
		}
		return ReadTiny(bytes.NewReader(data), path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening intermediary: %w", err)
	}
	defer f.Close()
	return ReadTiny(f, path)
}

// ReadTiny parses tiny v2 ("tiny\t2\t0\t...") or tiny v1 ("v1\t...") text.
// Parameters, local variables and comments are skipped.
func ReadTiny(r io.Reader, source string) (*Tree, error) {
	br := bufio.NewReader(r)
	header, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading %s: %w", source, err)
	}
	header = strings.TrimRight(header, "\r\n")
	parts := strings.Split(header, "\t")

	sc := bufio.NewScanner(br)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	switch {
	case len(parts) >= 5 && parts[0] == "tiny" && parts[1] == "2":
		return readTinyV2(sc, NewTree(parts[3:]...), source)
	case len(parts) >= 3 && parts[0] == "v1":
		return readTinyV1(sc, NewTree(parts[1:]...), source)
	default:
		return nil, &ParseError{Source: source, Line: 1, Err: errBadHeader}
	}
}

func readTinyV2(sc *bufio.Scanner, t *Tree, source string) (*Tree, error) {
	width := len(t.Namespaces)
	escaped := false
	var cls *Class
	line := 1
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" {
			continue
		}
		depth := 0
		for depth < len(text) && text[depth] == '\t' {
			depth++
		}
		fields := strings.Split(text[depth:], "\t")
		if escaped {
			for i := range fields {
				fields[i] = unescapeTiny(fields[i])
			}
		}

		switch depth {
		case 0:
			if fields[0] != "c" {
				continue
			}
			if len(fields) < 1+width {
				return nil, &ParseError{Source: source, Line: line, Err: fmt.Errorf("class needs %d names", width)}
			}
			cls = t.AddClass(fields[1 : 1+width]...)
		case 1:
			if cls == nil {
				// Header properties precede the first class.
				if fields[0] == "escaped-names" {
					escaped = true
				}
				continue
			}
			kind := fields[0]
			if kind != "f" && kind != "m" {
				continue
			}
			if len(fields) < 2+width {
				return nil, &ParseError{Source: source, Line: line, Err: fmt.Errorf("member needs a descriptor and %d names", width)}
			}
			if kind == "f" {
				cls.AddField(fields[1], fields[2:2+width]...)
			} else {
				cls.AddMethod(fields[1], fields[2:2+width]...)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", source, err)
	}
	return t, nil
}

func readTinyV1(sc *bufio.Scanner, t *Tree, source string) (*Tree, error) {
	width := len(t.Namespaces)
	line := 1
	for sc.Scan() {
		line++
		text := strings.TrimRight(sc.Text(), "\r")
		if text == "" || text[0] == '#' {
			continue
		}
		fields := strings.Split(text, "\t")
		switch fields[0] {
		case "CLASS":
			if len(fields) < 1+width {
				return nil, &ParseError{Source: source, Line: line, Err: fmt.Errorf("CLASS needs %d names", width)}
			}
			t.AddClass(fields[1 : 1+width]...)
		case "FIELD", "METHOD":
			if len(fields) < 3+width {
				return nil, &ParseError{Source: source, Line: line, Err: fmt.Errorf("%s needs owner, descriptor and %d names", fields[0], width)}
			}
			cls := t.AddClass(fields[1])
			if fields[0] == "FIELD" {
				cls.AddField(fields[2], fields[3:3+width]...)
			} else {
				cls.AddMethod(fields[2], fields[3:3+width]...)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", source, err)
	}
	return t, nil
}

var tinyUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r", `\t`, "\t", `\0`, "\x00")

func unescapeTiny(s string) string {
	if strings.IndexByte(s, '\\') < 0 {
		return s
	}
	return tinyUnescaper.Replace(s)
}

// WriteTiny writes t as tiny v2, classes and members in insertion order.
func WriteTiny(w io.Writer, t *Tree) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "tiny\t2\t0\t%s\n", strings.Join(t.Namespaces, "\t"))
	for _, c := range t.order {
		fmt.Fprintf(bw, "c\t%s\n", strings.Join(c.Names, "\t"))
		for _, f := range c.Fields {
			fmt.Fprintf(bw, "\tf\t%s\t%s\n", f.Desc, strings.Join(f.Names, "\t"))
		}
		for _, m := range c.Methods {
			fmt.Fprintf(bw, "\tm\t%s\t%s\n", m.Desc, strings.Join(m.Names, "\t"))
		}
	}
	return bw.Flush()
}

// WriteTinyJar writes t as tiny v2 inside a jar at TinyEntry.
func WriteTinyJar(w io.Writer, t *Tree) error {
	var buf bytes.Buffer
	if err := WriteTiny(&buf, t); err != nil {
		return err
	}
	return archive.Write(w, archive.Entry{Name: TinyEntry, Data: buf.Bytes()})
}
