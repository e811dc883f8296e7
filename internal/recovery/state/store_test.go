package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"crusty/internal/trace"
)

func TestStore_SaveAndLoadRun_IncludesNullablePreviousRunID(t *testing.T) {
	base := t.TempDir()
	store, err := NewStore(base)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	run := Run{
		RunID:         "run-123",
		BuildData:     "bd-abc",
		StartTime:     time.Unix(1, 2).UTC(),
		Mode:          ModeJar,
		Status:        RunStatusRunning,
		PreviousRunID: nil,
	}
	if err := store.SaveRun(run); err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(base, ".crusty", "runs", "run-123", "run.json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "\"previous_run_id\": null") {
		t.Fatalf("expected previous_run_id to be null; got: %s", string(data))
	}

	loaded, err := store.LoadRun("run-123")
	if err != nil {
		t.Fatalf("LoadRun: %v", err)
	}
	if loaded.RunID != run.RunID || loaded.BuildData != run.BuildData || loaded.Mode != ModeJar {
		t.Fatalf("loaded run mismatch: %+v", loaded)
	}
	if loaded.PreviousRunID != nil {
		t.Fatalf("expected PreviousRunID nil; got %v", *loaded.PreviousRunID)
	}
}

func TestStore_SaveRun_RejectsInvalidRun(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := store.SaveRun(Run{RunID: "r", Mode: "war"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestStore_SaveAndLoadTrace(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	tr := trace.StageTrace{RunKey: "bd-abc", Events: []trace.Event{
		{Kind: trace.EventStageSkipped, Stage: "fetch-server", Artifact: "minecraft/1.16.1/server.jar"},
		{Kind: trace.EventStageRecovered, Stage: "rename-classes"},
	}}
	if err := store.SaveTrace("run-1", tr); err != nil {
		t.Fatalf("SaveTrace: %v", err)
	}
	loaded, err := store.LoadTrace("run-1")
	if err != nil {
		t.Fatalf("LoadTrace: %v", err)
	}
	if len(loaded.Events) != 2 || loaded.Events[1].Kind != trace.EventStageRecovered {
		t.Fatalf("loaded trace mismatch: %+v", loaded)
	}
}

func TestStore_SaveAndLoadFailure_StageOptional(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	f := Failure{
		FailureClass: FailureClassSystem,
		Stage:        nil,
		ErrorCode:    "SIGTERM",
		ErrorMessage: "terminated",
		Resumable:    true,
	}
	if err := store.SaveFailure("run-9", f); err != nil {
		t.Fatalf("SaveFailure: %v", err)
	}
	loaded, err := store.LoadFailure("run-9")
	if err != nil {
		t.Fatalf("LoadFailure: %v", err)
	}
	if loaded.FailureClass != FailureClassSystem || loaded.Stage != nil || !loaded.Resumable {
		t.Fatalf("loaded failure mismatch: %+v", loaded)
	}
}

func TestStore_LatestRunID_FollowsCreationOrder(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	rec := &FailureRecorder{Store: store}

	if id, err := store.LatestRunID(); err != nil || id != "" {
		t.Fatalf("expected no runs, got %q %v", id, err)
	}

	var last string
	for i := 0; i < 3; i++ {
		id, err := rec.NewRunID()
		if err != nil {
			t.Fatalf("NewRunID: %v", err)
		}
		if err := rec.StartRun(Run{RunID: id, BuildData: "bd", Mode: ModeSources}); err != nil {
			t.Fatalf("StartRun: %v", err)
		}
		last = id
		time.Sleep(2 * time.Millisecond)
	}
	got, err := store.LatestRunID()
	if err != nil {
		t.Fatalf("LatestRunID: %v", err)
	}
	if got != last {
		t.Fatalf("expected latest %q, got %q", last, got)
	}
}

func TestStore_RunIDs_SortedDirectoriesOnly(t *testing.T) {
	base := t.TempDir()
	store, err := NewStore(base)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	for _, id := range []string{"run-b", "run-a"} {
		if err := store.SaveRun(Run{RunID: id, BuildData: "bd", StartTime: time.Unix(1, 0).UTC(), Mode: ModeJar, Status: RunStatusRunning}); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}
	if err := os.WriteFile(filepath.Join(base, ".crusty", "runs", "zz-notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	ids, err := store.RunIDs()
	if err != nil {
		t.Fatalf("RunIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != "run-a" || ids[1] != "run-b" {
		t.Fatalf("unexpected run IDs: %v", ids)
	}
}

func TestStore_LoadRun_RejectsUnknownFields(t *testing.T) {
	base := t.TempDir()
	store, err := NewStore(base)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	dir := filepath.Join(base, ".crusty", "runs", "run-1")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	data := `{"run_id":"run-1","build_data":"bd","start_time":"2024-01-01T00:00:00Z","end_time":null,"mode":"jar","status":"running","previous_run_id":null,"checkpoint":"x"}`
	if err := os.WriteFile(filepath.Join(dir, "run.json"), []byte(data), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := store.LoadRun("run-1"); err == nil {
		t.Fatalf("expected unknown field to be rejected")
	}
}
