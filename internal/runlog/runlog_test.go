package runlog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestErrorsReachBothSinks(t *testing.T) {
	var console bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "failures.log")

	logger, closer, err := New(&console, logPath)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	logger.Info("downloading class", "class", "Kafka Basics")
	logger.Error("download failed", "class", "Kafka Basics", "error", "boom")
	if err := closer.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	out := console.String()
	if !strings.Contains(out, "downloading class") {
		t.Errorf("console missing info record: %q", out)
	}
	if !strings.Contains(out, "download failed") {
		t.Errorf("console missing error record: %q", out)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read failure log: %v", err)
	}
	if strings.Contains(string(data), "downloading class") {
		t.Errorf("failure log should not contain info records: %q", data)
	}
	if !strings.Contains(string(data), "download failed") {
		t.Errorf("failure log missing error record: %q", data)
	}
}

func TestFailureLogAppends(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "failures.log")

	for _, msg := range []string{"first failure", "second failure"} {
		var console bytes.Buffer
		logger, closer, err := New(&console, logPath)
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		logger.Error(msg)
		closer.Close()
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read failure log: %v", err)
	}
	for _, msg := range []string{"first failure", "second failure"} {
		if !strings.Contains(string(data), msg) {
			t.Errorf("failure log missing %q across runs: %q", msg, data)
		}
	}
}

func TestWithAttrsPropagates(t *testing.T) {
	var console bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "failures.log")

	logger, closer, err := New(&console, logPath)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer closer.Close()

	logger.With("course", "UE23CS352A").Error("merge failed")

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("failed to read failure log: %v", err)
	}
	if !strings.Contains(string(data), "UE23CS352A") {
		t.Errorf("failure log missing attached attr: %q", data)
	}
}
