package index

import (
	"testing"
	"time"

	"tapesafe/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(":memory:", stubClock{})
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		t.Fatalf("applying schema: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

type stubClock struct{}

func (stubClock) Now() time.Time {
	return time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
}

func TestTapeOperations(t *testing.T) {
	store := newTestStore(t)

	tape := &model.Tape{
		ID:          "T001",
		Generation:  "L8",
		Encrypted:   false,
		CreatedAt:   stubClock{}.Now(),
		Description: "offsite set A",
	}
	if err := store.AddTape(tape); err != nil {
		t.Fatalf("AddTape: %v", err)
	}

	t.Run("get returns the stored tape", func(t *testing.T) {
		got, err := store.GetTape("T001")
		if err != nil {
			t.Fatalf("GetTape: %v", err)
		}
		if got == nil {
			t.Fatal("tape not found")
		}
		if got.Generation != "L8" || got.Description != "offsite set A" {
			t.Errorf("tape = %+v", got)
		}
		if !got.CreatedAt.Equal(tape.CreatedAt) {
			t.Errorf("created at = %v, want %v", got.CreatedAt, tape.CreatedAt)
		}
	})

	t.Run("get unknown returns nil", func(t *testing.T) {
		got, err := store.GetTape("missing")
		if err != nil {
			t.Fatalf("GetTape: %v", err)
		}
		if got != nil {
			t.Errorf("tape = %+v, want nil", got)
		}
	})

	t.Run("duplicate id is rejected", func(t *testing.T) {
		if err := store.AddTape(tape); err == nil {
			t.Error("expected primary key violation")
		}
	})

	t.Run("list is ordered by id", func(t *testing.T) {
		if err := store.AddTape(&model.Tape{ID: "A999", Generation: "L5", CreatedAt: stubClock{}.Now()}); err != nil {
			t.Fatalf("AddTape: %v", err)
		}
		tapes, err := store.ListTapes()
		if err != nil {
			t.Fatalf("ListTapes: %v", err)
		}
		if len(tapes) != 2 || tapes[0].ID != "A999" || tapes[1].ID != "T001" {
			t.Errorf("tapes = %+v", tapes)
		}
	})

	t.Run("encrypted flag updates", func(t *testing.T) {
		if err := store.SetTapeEncrypted("T001", true); err != nil {
			t.Fatalf("SetTapeEncrypted: %v", err)
		}
		got, _ := store.GetTape("T001")
		if !got.Encrypted {
			t.Error("encrypted flag not set")
		}
	})
}

func TestCapacityAccounting(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddTape(&model.Tape{ID: "T001", Generation: "L8", CreatedAt: stubClock{}.Now()}); err != nil {
		t.Fatalf("AddTape: %v", err)
	}

	if err := store.AddUsedCapacity("T001", 1000); err != nil {
		t.Fatalf("AddUsedCapacity: %v", err)
	}
	if err := store.AddUsedCapacity("T001", 500); err != nil {
		t.Fatalf("AddUsedCapacity: %v", err)
	}
	used, err := store.GetUsedCapacity("T001")
	if err != nil {
		t.Fatalf("GetUsedCapacity: %v", err)
	}
	if used != 1500 {
		t.Errorf("used = %d, want 1500", used)
	}

	if err := store.SetUsedCapacity("T001", 42); err != nil {
		t.Fatalf("SetUsedCapacity: %v", err)
	}
	used, _ = store.GetUsedCapacity("T001")
	if used != 42 {
		t.Errorf("used = %d, want 42", used)
	}
}

func TestJobLifecycle(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddTape(&model.Tape{ID: "T001", Generation: "L8", CreatedAt: stubClock{}.Now()}); err != nil {
		t.Fatalf("AddTape: %v", err)
	}

	jobID, err := store.CreateJob("T001", model.ActionBackup, model.BackupFull, "aabb")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	job, err := store.GetJob("T001", jobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != model.StatusRunning || job.IVHex != "aabb" {
		t.Errorf("job = %+v", job)
	}
	if !job.FinishedAt.IsZero() {
		t.Error("running job must have no finish time")
	}

	if err := store.FinishJob(jobID, model.StatusSuccess, 2048, "ccdd"); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}
	job, _ = store.GetJob("T001", jobID)
	if job.Status != model.StatusSuccess || job.Size != 2048 || job.TagHex != "ccdd" {
		t.Errorf("finished job = %+v", job)
	}
	if job.FinishedAt.IsZero() {
		t.Error("finished job must record a finish time")
	}

	t.Run("jobs list newest first", func(t *testing.T) {
		second, err := store.CreateJob("T001", model.ActionVerify, model.BackupNA, "")
		if err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		jobs, err := store.ListJobs("T001")
		if err != nil {
			t.Fatalf("ListJobs: %v", err)
		}
		if len(jobs) != 2 || jobs[0].ID != second || jobs[1].ID != jobID {
			t.Errorf("jobs = %+v", jobs)
		}
	})

	t.Run("find filters by status and action", func(t *testing.T) {
		jobs, err := store.FindJobs("T001", model.StatusSuccess, model.ActionBackup)
		if err != nil {
			t.Fatalf("FindJobs: %v", err)
		}
		if len(jobs) != 1 || jobs[0].ID != jobID {
			t.Errorf("jobs = %+v", jobs)
		}
	})

	t.Run("sum and presence", func(t *testing.T) {
		total, err := store.SumJobSizes("T001")
		if err != nil {
			t.Fatalf("SumJobSizes: %v", err)
		}
		if total != 2048 {
			t.Errorf("total = %d, want 2048", total)
		}

		ok, err := store.HasJob("T001", jobID)
		if err != nil {
			t.Fatalf("HasJob: %v", err)
		}
		if !ok {
			t.Error("job must be present")
		}
		ok, _ = store.HasJob("T001", 9999)
		if ok {
			t.Error("absent job reported present")
		}
	})

	t.Run("explicit-id insert for recovery", func(t *testing.T) {
		ts := stubClock{}.Now()
		err := store.InsertJob(&model.Job{
			ID:         77,
			TapeID:     "T001",
			Action:     model.ActionBackup,
			BackupType: model.BackupIncremental,
			StartedAt:  ts,
			FinishedAt: ts,
			Status:     model.StatusSuccess,
			Size:       512,
		})
		if err != nil {
			t.Fatalf("InsertJob: %v", err)
		}
		job, err := store.GetJob("T001", 77)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if job == nil || job.BackupType != model.BackupIncremental {
			t.Errorf("job = %+v", job)
		}
	})
}

func TestCommitNodes(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddTape(&model.Tape{ID: "T001", Generation: "L8", CreatedAt: stubClock{}.Now()}); err != nil {
		t.Fatalf("AddTape: %v", err)
	}
	jobID, err := store.CreateJob("T001", model.ActionBackup, model.BackupFull, "")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	rootIdx := 0
	subIdx := 2
	records := []model.NodeRecord{
		{Name: "root", IsDir: true},
		{ParentIdx: &rootIdx, Name: "a.txt", Size: 10, Mtime: 1.5},
		{ParentIdx: &rootIdx, Name: "sub", IsDir: true},
		{ParentIdx: &subIdx, Name: "b.txt", Size: 20, Mtime: 2.5},
	}
	if err := store.CommitNodes("T001", jobID, records); err != nil {
		t.Fatalf("CommitNodes: %v", err)
	}

	count, err := store.CountNodesForJob("T001", jobID)
	if err != nil {
		t.Fatalf("CountNodesForJob: %v", err)
	}
	if count != 4 {
		t.Errorf("count = %d, want 4", count)
	}

	roots, err := store.ListNodes("T001", nil)
	if err != nil {
		t.Fatalf("ListNodes(root): %v", err)
	}
	if len(roots) != 1 || roots[0].Name != "root" || !roots[0].IsDir {
		t.Fatalf("roots = %+v", roots)
	}

	children, err := store.ListNodes("T001", &roots[0].ID)
	if err != nil {
		t.Fatalf("ListNodes(children): %v", err)
	}
	// Directories first, then by name.
	if len(children) != 2 || children[0].Name != "sub" || children[1].Name != "a.txt" {
		t.Fatalf("children = %+v", children)
	}
	if children[1].Mtime != 1.5 {
		t.Errorf("mtime = %f, want 1.5", children[1].Mtime)
	}

	grandchildren, err := store.ListNodes("T001", &children[0].ID)
	if err != nil {
		t.Fatalf("ListNodes(grandchildren): %v", err)
	}
	if len(grandchildren) != 1 || grandchildren[0].Name != "b.txt" {
		t.Fatalf("grandchildren = %+v", grandchildren)
	}
	if grandchildren[0].ParentID == nil || *grandchildren[0].ParentID != children[0].ID {
		t.Error("parent position was not translated to the durable id")
	}
}

func TestTapeInfo(t *testing.T) {
	store := newTestStore(t)
	if err := store.AddTape(&model.Tape{ID: "T001", Generation: "L8", CreatedAt: stubClock{}.Now()}); err != nil {
		t.Fatalf("AddTape: %v", err)
	}

	if _, ok, err := store.GetTapeInfo("T001", "kdf_salt"); err != nil || ok {
		t.Fatalf("unset key: ok=%v err=%v", ok, err)
	}

	if err := store.SetTapeInfo("T001", "kdf_salt", "aabbcc"); err != nil {
		t.Fatalf("SetTapeInfo: %v", err)
	}
	value, ok, err := store.GetTapeInfo("T001", "kdf_salt")
	if err != nil || !ok || value != "aabbcc" {
		t.Fatalf("value=%q ok=%v err=%v", value, ok, err)
	}

	// Setting again replaces.
	if err := store.SetTapeInfo("T001", "kdf_salt", "ddeeff"); err != nil {
		t.Fatalf("SetTapeInfo: %v", err)
	}
	value, _, _ = store.GetTapeInfo("T001", "kdf_salt")
	if value != "ddeeff" {
		t.Errorf("value = %q, want ddeeff", value)
	}
}

func TestCheckMigrations(t *testing.T) {
	store := newTestStore(t)
	if err := store.CheckMigrations(); err != nil {
		t.Errorf("CheckMigrations after Migrate: %v", err)
	}
}
