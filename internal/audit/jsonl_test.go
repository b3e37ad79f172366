package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestJSONLSinkAppendsLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	sink, err := NewJSONLSink(path, RetentionConfig{})
	if err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"req_1", "req_2"} {
		if err := sink.Write(&Event{RequestID: id, Stage: StageDecision}); err != nil {
			t.Fatal(err)
		}
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var ids []string
	for scanner.Scan() {
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		ids = append(ids, evt.RequestID)
	}
	if len(ids) != 2 || ids[0] != "req_1" || ids[1] != "req_2" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestJSONLSinkCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "audit.jsonl")
	sink, err := NewJSONLSink(path, RetentionConfig{})
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()
	if err := sink.Write(&Event{RequestID: "req_1"}); err != nil {
		t.Fatal(err)
	}
}

func TestJSONLSinkRotates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	// Pre-fill past the size threshold.
	pad := bytes.Repeat([]byte(`{"schema_version":"1"}`+"\n"), 64*1024)
	if err := os.WriteFile(path, pad, 0o644); err != nil {
		t.Fatal(err)
	}

	sink, err := NewJSONLSink(path, RetentionConfig{MaxSizeMB: 1, RotateCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Write(&Event{RequestID: "req_after_rotate"}); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}

	rotated, err := os.Stat(path + ".1")
	if err != nil {
		t.Fatalf("rotated file missing: %v", err)
	}
	if rotated.Size() != int64(len(pad)) {
		t.Errorf("rotated size = %d, want %d", rotated.Size(), len(pad))
	}

	live, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(live, []byte("req_after_rotate")) {
		t.Error("live file missing post-rotation event")
	}
	if bytes.Contains(live, pad[:64]) && len(live) > 4096 {
		t.Error("live file still contains pre-rotation data")
	}
}

func TestJSONLSinkDropsExcessRotations(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")

	pad := bytes.Repeat([]byte(`{"schema_version":"1"}`+"\n"), 64*1024)
	if err := os.WriteFile(path, pad, 0o644); err != nil {
		t.Fatal(err)
	}
	// With a cap of one, the existing rotation is replaced, never shifted
	// to an index beyond the cap.
	if err := os.WriteFile(path+".1", []byte("old\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	sink, err := NewJSONLSink(path, RetentionConfig{MaxSizeMB: 1, RotateCount: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Write(&Event{RequestID: "req_1"}); err != nil {
		t.Fatal(err)
	}
	sink.Close()

	if _, err := os.Stat(path + ".2"); !os.IsNotExist(err) {
		t.Error("rotation beyond the cap should be removed")
	}
}
