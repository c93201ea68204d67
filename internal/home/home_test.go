package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-slate")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-slate" {
			t.Errorf("expected path /tmp/test-slate, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		userHome, _ := os.UserHomeDir()
		expected := filepath.Join(userHome, DefaultDirName, CoursesDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-slate")

	t.Run("IndexPath", func(t *testing.T) {
		if got := dir.IndexPath(); got != "/tmp/test-slate/index.json" {
			t.Errorf("got %s", got)
		}
	})

	t.Run("CourseDir", func(t *testing.T) {
		got := dir.CourseDir("1234", "UE22CS343BB3-Cloud-Computing")
		want := "/tmp/test-slate/course1234_UE22CS343BB3-Cloud-Computing"
		if got != want {
			t.Errorf("got %s, want %s", got, want)
		}
	})
}

func TestNaming(t *testing.T) {
	if got := UnitDirName(2, "Unit 2: Virtualization Basics"); got != "unit_2_Virtualization-Basics" {
		t.Errorf("UnitDirName: got %s", got)
	}
	if got := MergedPDFName("UE22CS343BB3-Cloud-Computing", 3); got != "UE22CS343BB3-Cloud-Computing_u3_merged.pdf" {
		t.Errorf("MergedPDFName: got %s", got)
	}
	if got := AggregatePDFName("X-Y"); got != "X-Y_ESA.pdf" {
		t.Errorf("AggregatePDFName: got %s", got)
	}
	if got := SummaryName("X-Y"); got != "X-Y_course_summary.json" {
		t.Errorf("SummaryName: got %s", got)
	}
	if got := FailureLogName("X-Y"); got != "X-Y_failures.log" {
		t.Errorf("FailureLogName: got %s", got)
	}
}

func TestDir_EnsureExists(t *testing.T) {
	tmpDir := t.TempDir()
	base := filepath.Join(tmpDir, "courses")

	dir, err := New(base)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists failed: %v", err)
	}
	if _, err := os.Stat(base); err != nil {
		t.Errorf("base directory should exist after EnsureExists: %v", err)
	}
}
