package app

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestTapeHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(&tapeHandler{w: &buf, opID: "backup-ab12cd34"})

	logger.Info("job started", "tape", "T001", "job", 7)

	line := strings.TrimSuffix(buf.String(), "\n")
	fields := strings.Split(line, "\t")
	if len(fields) != 6 {
		t.Fatalf("fields = %q", fields)
	}
	if fields[1] != "INFO" {
		t.Errorf("level = %q", fields[1])
	}
	if fields[2] != "backup-ab12cd34" {
		t.Errorf("opID = %q", fields[2])
	}
	if fields[3] != "job started" {
		t.Errorf("message = %q", fields[3])
	}
	if fields[4] != "tape=T001" || fields[5] != "job=7" {
		t.Errorf("attrs = %q", fields[4:])
	}
	if !strings.HasSuffix(fields[0], "Z") {
		t.Errorf("timestamp = %q, want UTC", fields[0])
	}
}

func TestTapeHandlerWithAttrs(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(&tapeHandler{w: &buf, opID: "verify-00000000"})
	logger := base.With("tape", "T001")

	logger.Warn("archive missing", "job", 3)

	line := buf.String()
	if !strings.Contains(line, "\tWARN\t") {
		t.Errorf("line = %q", line)
	}
	// Pre-set attrs come before per-record attrs.
	tapeIdx := strings.Index(line, "tape=T001")
	jobIdx := strings.Index(line, "job=3")
	if tapeIdx < 0 || jobIdx < 0 || tapeIdx > jobIdx {
		t.Errorf("line = %q", line)
	}

	// The base logger must be unaffected.
	buf.Reset()
	base.Info("plain")
	if strings.Contains(buf.String(), "tape=T001") {
		t.Errorf("base logger picked up attrs: %q", buf.String())
	}
}
