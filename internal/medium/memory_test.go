package medium

import (
	"bytes"
	"io"
	"testing"
)

func TestMemoryMedium(t *testing.T) {
	med := NewMemoryMedium()
	payload := []byte("archive bytes")

	w, err := med.Writer("T001", 5, false)
	if err != nil {
		t.Fatalf("Writer: %v", err)
	}
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// Not durable until Close.
	if _, err := med.Reader("T001", 5, false); err == nil {
		t.Error("archive visible before Close")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := med.Reader("T001", 5, false)
	if err != nil {
		t.Fatalf("Reader: %v", err)
	}
	got, _ := io.ReadAll(r)
	r.Close()
	if !bytes.Equal(got, payload) {
		t.Errorf("read %q, want %q", got, payload)
	}

	size, err := med.ArtifactSize("T001", 5, false)
	if err != nil {
		t.Fatalf("ArtifactSize: %v", err)
	}
	if size != int64(len(payload)) {
		t.Errorf("size = %d, want %d", size, len(payload))
	}

	t.Run("corrupt flips a single byte", func(t *testing.T) {
		med.CorruptArchive("T001", 5, false, 0)
		r, err := med.Reader("T001", 5, false)
		if err != nil {
			t.Fatalf("Reader: %v", err)
		}
		defer r.Close()
		got, _ := io.ReadAll(r)
		if got[0] == payload[0] {
			t.Error("byte not flipped")
		}
		if !bytes.Equal(got[1:], payload[1:]) {
			t.Error("more than one byte changed")
		}
	})

	t.Run("delete removes the archive", func(t *testing.T) {
		med.DeleteArchive("T001", 5, false)
		if _, err := med.Reader("T001", 5, false); err == nil {
			t.Error("archive readable after delete")
		}
	})
}

func TestMemoryMedium_Manifests(t *testing.T) {
	med := NewMemoryMedium()

	for _, id := range []int64{3, 1, 2} {
		if err := med.WriteManifest("T001", id, []byte("m")); err != nil {
			t.Fatalf("WriteManifest(%d): %v", id, err)
		}
	}

	ids, err := med.ListManifests("T001")
	if err != nil {
		t.Fatalf("ListManifests: %v", err)
	}
	want := []int64{1, 2, 3}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}

	data, err := med.ReadManifest("T001", 2)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if string(data) != "m" {
		t.Errorf("data = %q", data)
	}

	ids, _ = med.ListManifests("T002")
	if len(ids) != 0 {
		t.Errorf("ids for empty tape = %v", ids)
	}
}
