// Package home defines the on-disk layout of the course output tree.
//
// Layout (fixed for compatibility with existing trees and their consumers):
//
//	{base}/index.json
//	{base}/courses.json
//	{base}/course{courseID}_{prefix}/
//	    {prefix}_course_summary.json
//	    {prefix}_failures.log
//	    {prefix}_ESA.pdf
//	    unit_{n}_{title}/
//	        01_{class}.pdf ...
//	        {prefix}_u{n}_merged.pdf
//
// where {prefix} is "{subjectCode}-{sanitizedCourseName}".
package home

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/slatedl/slate/internal/names"
)

const (
	// DefaultDirName is the default name for the slate home directory.
	DefaultDirName = ".slate"

	// CoursesDirName is the subdirectory holding downloaded course trees.
	CoursesDirName = "courses"

	// IndexFileName is the top-level manifest of completed courses.
	IndexFileName = "index.json"

	// SubjectsFileName is the cached subject listing for downstream consumers.
	SubjectsFileName = "courses.json"
)

// Dir represents the base output directory for downloaded courses.
type Dir struct {
	path string
}

// New creates a Dir rooted at path. If path is empty, uses the default
// (~/.slate/courses).
func New(path string) (*Dir, error) {
	if path == "" {
		userHome, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(userHome, DefaultDirName, CoursesDirName)
	}
	return &Dir{path: path}, nil
}

// Path returns the base output directory.
func (d *Dir) Path() string {
	return d.path
}

// IndexPath returns the path of the top-level index manifest.
func (d *Dir) IndexPath() string {
	return filepath.Join(d.path, IndexFileName)
}

// SubjectsPath returns the path of the cached subject listing.
func (d *Dir) SubjectsPath() string {
	return filepath.Join(d.path, SubjectsFileName)
}

// CourseDir returns the directory for one course.
func (d *Dir) CourseDir(courseID, prefix string) string {
	return filepath.Join(d.path, CourseDirName(courseID, prefix))
}

// EnsureExists creates the base output directory if missing.
func (d *Dir) EnsureExists() error {
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// CourseDirName builds the course directory name: "course{id}_{prefix}".
func CourseDirName(courseID, prefix string) string {
	return fmt.Sprintf("course%s_%s", courseID, prefix)
}

// UnitDirName builds a unit directory name: "unit_{n}_{sanitizedTitle}".
func UnitDirName(unitNumber int, unitName string) string {
	return fmt.Sprintf("unit_%d_%s", unitNumber, names.UnitTitle(unitName, unitNumber))
}

// MergedPDFName builds the per-unit merged PDF name.
func MergedPDFName(prefix string, unitNumber int) string {
	return fmt.Sprintf("%s_u%d_merged.pdf", prefix, unitNumber)
}

// AggregatePDFName builds the course-level aggregate PDF name.
func AggregatePDFName(prefix string) string {
	return prefix + "_ESA.pdf"
}

// SummaryName builds the course summary file name.
func SummaryName(prefix string) string {
	return prefix + "_course_summary.json"
}

// FailureLogName builds the per-course failure log name.
func FailureLogName(prefix string) string {
	return prefix + "_failures.log"
}
