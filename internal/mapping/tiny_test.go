package mapping

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crusty/internal/archive"
)

type classView struct {
	Names   []string
	Fields  []Member
	Methods []Member
}

func view(t *Tree) []classView {
	var out []classView
	for _, c := range t.Classes() {
		cv := classView{Names: c.Names}
		for _, f := range c.Fields {
			cv.Fields = append(cv.Fields, *f)
		}
		for _, m := range c.Methods {
			cv.Methods = append(cv.Methods, *m)
		}
		out = append(out, cv)
	}
	return out
}

const tinyV2 = "tiny\t2\t0\tofficial\tintermediary\n" +
	"c\tax\tnet/minecraft/class_1\n" +
	"\tc\tA comment on the class.\n" +
	"\tf\tI\tbar\tfield_1\n" +
	"\tm\t(Lax;)V\tb\tmethod_1\n" +
	"\t\tp\t1\t\targ\n" +
	"c\tay\tnet/minecraft/class_2\n" +
	"\tf\tLax;\tc\tfield_2\n"

func TestReadTiny_V2(t *testing.T) {
	tree, err := ReadTiny(strings.NewReader(tinyV2), "intermediary.tiny")
	require.NoError(t, err)
	assert.Equal(t, []string{"official", "intermediary"}, tree.Namespaces)

	want := []classView{
		{
			Names:   []string{"ax", "net/minecraft/class_1"},
			Fields:  []Member{{Names: []string{"bar", "field_1"}, Desc: "I"}},
			Methods: []Member{{Names: []string{"b", "method_1"}, Desc: "(Lax;)V"}},
		},
		{
			Names:  []string{"ay", "net/minecraft/class_2"},
			Fields: []Member{{Names: []string{"c", "field_2"}, Desc: "Lax;"}},
		},
	}
	if diff := cmp.Diff(want, view(tree)); diff != "" {
		t.Fatalf("tree mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, "net/minecraft/class_1", tree.ClassName("ax", 1))
	assert.Equal(t, "zz", tree.ClassName("zz", 1))
	assert.Equal(t, "(Lnet/minecraft/class_1;)V", tree.MapDescriptor("(Lax;)V", 1))

	require.NotNil(t, tree.Field("ax", "bar", ""))
	require.NotNil(t, tree.Field("ax", "bar", "I"))
	assert.Nil(t, tree.Field("ax", "bar", "J"))
	require.NotNil(t, tree.Method("ax", "b", "(Lax;)V"))
	assert.Nil(t, tree.Method("ax", "b", "()V"))
}

func TestReadTiny_V2EscapedNames(t *testing.T) {
	src := "tiny\t2\t0\tofficial\tintermediary\n" +
		"\tescaped-names\n" +
		"c\ta\\\\b\tnet/minecraft/class_1\n"
	tree, err := ReadTiny(strings.NewReader(src), "x")
	require.NoError(t, err)
	require.NotNil(t, tree.Class(`a\b`))
}

func TestReadTiny_V1(t *testing.T) {
	src := "v1\tofficial\tintermediary\n" +
		"# comment\n" +
		"CLASS\tax\tnet/minecraft/class_1\n" +
		"FIELD\tax\tI\tbar\tfield_1\n" +
		"METHOD\tax\t()V\tb\tmethod_1\n" +
		"FIELD\tay\tJ\tq\tfield_9\n"
	tree, err := ReadTiny(strings.NewReader(src), "x")
	require.NoError(t, err)

	f := tree.Field("ax", "bar", "")
	require.NotNil(t, f)
	assert.Equal(t, "field_1", f.Name(1))
	require.NotNil(t, tree.Method("ax", "b", "()V"))

	// A member whose class line is absent still gets a class keyed by owner.
	assert.Equal(t, "ay", tree.ClassName("ay", 1))
	require.NotNil(t, tree.Field("ay", "q", "J"))
}

func TestReadTiny_RejectsUnknownHeader(t *testing.T) {
	_, err := ReadTiny(strings.NewReader("srg\n"), "x")
	require.Error(t, err)
}

func TestWriteTiny_RoundTrip(t *testing.T) {
	tree := NewTree(NamespaceIntermediary, NamespaceNamed)
	c := tree.AddClass("net/minecraft/class_1", "net/minecraft/server/Foo")
	c.AddField("I", "field_1", "baz")
	c.AddMethod("()V", "method_1", "tick")

	var buf bytes.Buffer
	require.NoError(t, WriteTiny(&buf, tree))
	assert.Equal(t, "tiny\t2\t0\tintermediary\tnamed\n"+
		"c\tnet/minecraft/class_1\tnet/minecraft/server/Foo\n"+
		"\tf\tI\tfield_1\tbaz\n"+
		"\tm\t()V\tmethod_1\ttick\n", buf.String())

	back, err := ReadTiny(&buf, "roundtrip")
	require.NoError(t, err)
	if diff := cmp.Diff(view(tree), view(back)); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadTree_FromJar(t *testing.T) {
	jar := filepath.Join(t.TempDir(), "intermediary-1.16.1-v2.jar")
	require.NoError(t, archive.WriteFile(jar,
		archive.Entry{Name: "META-INF/MANIFEST.MF", Data: []byte("Manifest-Version: 1.0\n")},
		archive.Entry{Name: TinyEntry, Data: []byte(tinyV2)},
	))

	tree, err := LoadTree(jar)
	require.NoError(t, err)
	assert.Len(t, tree.Classes(), 2)

	raw := filepath.Join(t.TempDir(), "mappings.tiny")
	require.NoError(t, os.WriteFile(raw, []byte(tinyV2), 0o644))
	tree, err = LoadTree(raw)
	require.NoError(t, err)
	assert.Len(t, tree.Classes(), 2)
}
