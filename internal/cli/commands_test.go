package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"crusty/internal/archive"
	"crusty/internal/pipeline"
	"crusty/internal/recovery/state"
)

const builtinTools = `tools:
  class_rename: builtin
  member_rename: builtin
  final_rename: builtin
  decompile: builtin
`

type cliFixture struct {
	workDir  string
	archive  string
	failStep string
	srv      *httptest.Server
}

// newCLIFixture writes a build data archive into a fresh work directory and
// serves the server jar and the authoritative mapping it points to.
func newCLIFixture(t *testing.T, withMappings bool) *cliFixture {
	t.Helper()
	f := &cliFixture{workDir: t.TempDir()}

	var serverJar bytes.Buffer
	require.NoError(t, archive.Write(&serverJar,
		archive.Entry{Name: "net/minecraft/server/Foo.class", Data: []byte("foo")},
		archive.Entry{Name: "org/lib/Lib.class", Data: []byte("lib")},
	))
	mux := http.NewServeMux()
	mux.HandleFunc("/server.jar", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write(serverJar.Bytes()) })
	mux.HandleFunc("/mojmap.txt", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("net.minecraft.server.Foo -> ax:\n    int count -> a\n"))
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)

	info := map[string]any{
		"minecraftVersion": "1.16.1",
		"serverUrl":        f.srv.URL + "/server.jar",
		"accessTransforms": "bukkit-1.16.1.at",
		"classMappings":    "bukkit-1.16.1-cl.csrg",
		"memberMappings":   "bukkit-1.16.1-members.csrg",
		"decompileCommand": "java -jar BuildData/bin/fernflower.jar {0} {1}",
		"toolsVersion":     97,
	}
	if withMappings {
		info["mappingsUrl"] = f.srv.URL + "/mojmap.txt"
	}
	infoJSON, err := json.Marshal(info)
	require.NoError(t, err)

	f.archive = filepath.Join(f.workDir, "builddata.zip")
	require.NoError(t, archive.WriteFile(f.archive,
		archive.Entry{Name: "info.json", Data: infoJSON},
		archive.Entry{Name: "mappings/bukkit-1.16.1-cl.csrg", Data: []byte("ax net/minecraft/server/Foo\n")},
		archive.Entry{Name: "mappings/bukkit-1.16.1-members.csrg", Data: []byte("net/minecraft/server/Foo a count\n")},
		archive.Entry{Name: "mappings/bukkit-1.16.1.at", Data: []byte("public net/minecraft/server/Foo\n")},
		archive.Entry{Name: "mappings/bukkit-1.16.1.exclude", Data: []byte("")},
	))
	require.NoError(t, os.WriteFile(filepath.Join(f.workDir, "crusty.yaml"), []byte(builtinTools), 0o644))
	return f
}

func (f *cliFixture) app(t *testing.T, stdout, stderr *bytes.Buffer) *App {
	transport := &http.Transport{}
	t.Cleanup(transport.CloseIdleConnections)
	return &App{
		Stdout:  stdout,
		Stderr:  stderr,
		WorkDir: f.workDir,
		Hooks: Hooks{
			Logger: zap.NewNop(),
			Configure: func(p *pipeline.Pipeline) {
				p.Downloader.Fetcher.Client = &http.Client{Transport: transport}
				for _, name := range []string{pipeline.StageRenameClasses, pipeline.StageRenameMembers, pipeline.StageRenameFinal} {
					name := name
					p.Builtins.Register(name, func(_ context.Context, args []string) error {
						if name == f.failStep {
							return errors.New("remapper crashed")
						}
						data, err := os.ReadFile(args[0])
						if err != nil {
							return err
						}
						return os.WriteFile(args[len(args)-1], data, 0o644)
					})
				}
			},
		},
	}
}

func (f *cliFixture) run(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := f.app(t, &stdout, &stderr).Run(context.Background(), args)
	return code, stdout.String(), stderr.String()
}

func buildArgs(extra ...string) []string {
	return append([]string{"build", "--config", "crusty.yaml", "--cache-dir", "cache", "--archive", "builddata.zip"}, extra...)
}

func TestBuild_SucceedsAndRecordsRun(t *testing.T) {
	f := newCLIFixture(t, true)

	code, stdout, stderr := f.run(t, buildArgs("--trace", "out/trace.json")...)
	require.Equal(t, ExitSuccess, code, stderr)

	output := strings.TrimSpace(stdout)
	assert.True(t, strings.HasSuffix(output, "final-stripped.jar"), output)
	_, err := archive.ReadEntry(output, "net/minecraft/server/Foo.class")
	assert.NoError(t, err)

	st, err := state.NewStore(filepath.Join(f.workDir, "cache"))
	require.NoError(t, err)
	id, err := st.LatestRunID()
	require.NoError(t, err)
	run, err := st.LoadRun(id)
	require.NoError(t, err)
	assert.Equal(t, state.RunStatusSucceeded, run.Status)
	assert.Equal(t, "1.16.1", run.MinecraftVersion)
	assert.Equal(t, output, run.Output)

	tr, err := st.LoadTrace(id)
	require.NoError(t, err)
	assert.NotEmpty(t, tr.Events)
	sum, err := tr.Hash()
	require.NoError(t, err)
	assert.Equal(t, sum.String(), run.TraceHash)

	_, err = os.Stat(filepath.Join(f.workDir, "out", "trace.json"))
	assert.NoError(t, err)

	// A second build links to the first through previous_run_id.
	code, _, stderr = f.run(t, buildArgs()...)
	require.Equal(t, ExitSuccess, code, stderr)
	next, err := st.LatestRunID()
	require.NoError(t, err)
	second, err := st.LoadRun(next)
	require.NoError(t, err)
	require.NotNil(t, second.PreviousRunID)
	assert.Equal(t, id, *second.PreviousRunID)
}

func TestBuild_ToolFailureIsRecordedAndReportedByStatus(t *testing.T) {
	f := newCLIFixture(t, true)
	f.failStep = pipeline.StageRenameFinal

	code, _, stderr := f.run(t, buildArgs()...)
	assert.Equal(t, ExitPipelineFailure, code)
	assert.Contains(t, stderr, "remapper crashed")

	st, err := state.NewStore(filepath.Join(f.workDir, "cache"))
	require.NoError(t, err)
	id, err := st.LatestRunID()
	require.NoError(t, err)
	failure, err := st.LoadFailure(id)
	require.NoError(t, err)
	assert.Equal(t, state.FailureClassTool, failure.FailureClass)
	require.NotNil(t, failure.Stage)
	assert.Equal(t, pipeline.StageRenameFinal, *failure.Stage)

	code, stdout, stderr := f.run(t, "status", "--config", "crusty.yaml", "--cache-dir", "cache", "--archive", "builddata.zip")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Regexp(t, `rename-members\s+built`, stdout)
	assert.Regexp(t, `rename-final\s+claimed`, stdout)
	assert.Regexp(t, `strip\s+missing`, stdout)
	assert.Contains(t, stdout, "failed")
	assert.Contains(t, stdout, "tool failure in rename-final")
	assert.Regexp(t, `stages: \d+ built, 0 recovered, 0 skipped`, stdout)
}

func TestBuild_NoMappingSourceExitsWithConfigError(t *testing.T) {
	f := newCLIFixture(t, false)
	code, _, stderr := f.run(t, buildArgs()...)
	assert.Equal(t, ExitConfigError, code)
	assert.Contains(t, stderr, "neither mappingsUrl nor packageMappings")
}

func TestRun_InvalidInvocations(t *testing.T) {
	f := newCLIFixture(t, true)
	for name, args := range map[string][]string{
		"unknown flag":          {"build", "--nope"},
		"unknown command":       {"frobnicate"},
		"positional argument":   {"build", "extra"},
		"missing required flag": {"merge", "--classes", "cl.csrg"},
		"archive and commit":    buildArgs("--commit", "abc"),
	} {
		t.Run(name, func(t *testing.T) {
			code, _, _ := f.run(t, args...)
			assert.Equal(t, ExitInvalidInvocation, code)
		})
	}
}

func TestMergeAndFieldMapCommands(t *testing.T) {
	f := newCLIFixture(t, true)
	write := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(f.workDir, name), []byte(content), 0o644))
	}
	write("cl.csrg", "# classes\nax net/minecraft/server/Foo\n")
	write("members.csrg", "net/minecraft/server/Foo a count\n")
	write("intermediary.tiny", "tiny\t2\t0\tofficial\tintermediary\nc\tax\tnet/minecraft/class_1\n\tf\tI\ta\tfield_1\n")
	write("mojmap.txt", "net.minecraft.server.Foo -> ax:\n    int count -> a\n")

	mergeArgs := []string{"merge", "--classes", "cl.csrg", "--members", "members.csrg", "--intermediary", "intermediary.tiny", "-o", "out/merged.tiny"}
	code, stdout, stderr := f.run(t, mergeArgs...)
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "(written): 1 classes, 1 fields, 0 methods, 0 warnings")

	merged, err := os.ReadFile(filepath.Join(f.workDir, "out", "merged.tiny"))
	require.NoError(t, err)
	assert.Contains(t, string(merged), "\tf\tI\tfield_1\tcount\n")

	code, stdout, _ = f.run(t, mergeArgs...)
	require.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "(up to date)")

	code, stdout, stderr = f.run(t, "fieldmap", "--classes", "cl.csrg", "--proguard", "mojmap.txt", "-o", "fields.csrg")
	require.Equal(t, ExitSuccess, code, stderr)
	assert.Contains(t, stdout, "1 fields")
	fields, err := os.ReadFile(filepath.Join(f.workDir, "fields.csrg"))
	require.NoError(t, err)
	assert.Equal(t, "# classes\nnet/minecraft/server/Foo a count\n", string(fields))
}

func TestMerge_UnresolvedOwnerIsPipelineFailure(t *testing.T) {
	f := newCLIFixture(t, true)
	require.NoError(t, os.WriteFile(filepath.Join(f.workDir, "cl.csrg"), []byte("ax net/minecraft/server/Foo\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.workDir, "members.csrg"), []byte("net/minecraft/server/Missing a count\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.workDir, "i.tiny"), []byte("tiny\t2\t0\tofficial\tintermediary\n"), 0o644))

	code, _, stderr := f.run(t, "merge", "--classes", "cl.csrg", "--members", "members.csrg", "--intermediary", "i.tiny", "-o", "m.tiny")
	assert.Equal(t, ExitPipelineFailure, code)
	assert.NotEmpty(t, stderr)
}
