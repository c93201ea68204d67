package batch

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/slatedl/slate/internal/pdfutil"
)

// FileInfo records one file on disk that belongs to a class.
type FileInfo struct {
	Filename string `json:"filename"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type"`
	SHA256   string `json:"sha256,omitempty"`
	// OrigSHA256 is the digest of the downloaded source document for
	// entries produced by conversion.
	OrigSHA256 string `json:"orig_sha256,omitempty"`
}

// ClassSummary records the outcome of one class download.
type ClassSummary struct {
	ClassNumber int        `json:"class_number"`
	ClassID     string     `json:"class_id"`
	ClassName   string     `json:"class_name"`
	Status      string     `json:"status"`
	Files       []FileInfo `json:"files"`
}

// UnitSummary records the outcome of one unit.
type UnitSummary struct {
	UnitNumber    int            `json:"unit_number"`
	UnitID        string         `json:"unit_id"`
	UnitName      string         `json:"unit_name"`
	UnitDirectory string         `json:"unit_directory,omitempty"`
	Classes       []ClassSummary `json:"classes"`
	TotalFiles    int            `json:"total_files"`
	FailedFiles   int            `json:"failed_files"`

	MergedPDF    string `json:"merged_pdf,omitempty"`
	MergedPDFSHA string `json:"merged_pdf_sha,omitempty"`
	// MergedInputsSHA is the composite digest of the inputs that produced
	// MergedPDF; a later run skips the merge when it still matches.
	MergedInputsSHA string `json:"merged_inputs_sha,omitempty"`

	OfficeSources   int      `json:"office_sources"`
	OfficeConverted int      `json:"office_converted"`
	OfficeMissing   []string `json:"office_missing,omitempty"`
}

// CourseSummary is the per-course run record written next to the downloads.
// Field names are stable: downstream tooling reads this file.
type CourseSummary struct {
	RunID        string `json:"run_id"`
	CourseID     string `json:"course_id"`
	CourseName   string `json:"course_name"`
	DownloadDate string `json:"download_date"`
	TotalUnits   int    `json:"total_units"`
	// FilteredUnits is set only when a unit filter restricted the run.
	FilteredUnits int           `json:"filtered_units,omitempty"`
	Units         []UnitSummary `json:"units"`
	FailureLog    string        `json:"failure_log"`

	TotalDownloaded int `json:"total_downloaded"`
	TotalFailed     int `json:"total_failed"`

	ESAPDF    string `json:"esa_pdf,omitempty"`
	ESAPDFSHA string `json:"esa_pdf_sha,omitempty"`
	// ESAInputsSHA is the composite digest of the unit merged PDFs that
	// produced ESAPDF.
	ESAInputsSHA string `json:"esa_inputs_sha,omitempty"`
}

// LoadSummary reads a course summary from disk.
func LoadSummary(path string) (*CourseSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read course summary: %w", err)
	}
	var summary CourseSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("failed to parse course summary: %w", err)
	}
	return &summary, nil
}

// Save writes the summary to path as indented JSON.
func (s *CourseSummary) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal course summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write course summary: %w", err)
	}
	return nil
}

// HasFile reports whether a prior run recorded filename with this digest.
// A nil receiver never matches, so callers can pass a missing prior summary
// straight through.
func (s *CourseSummary) HasFile(filename, sha string) bool {
	if s == nil || sha == "" {
		return false
	}
	for _, unit := range s.Units {
		for _, class := range unit.Classes {
			for _, file := range class.Files {
				if file.Filename == filename && file.SHA256 == sha {
					return true
				}
			}
		}
	}
	return false
}

// FilesForClass returns the files a prior run recorded for a class.
// Nil-safe, like HasFile.
func (s *CourseSummary) FilesForClass(classID string) []FileInfo {
	if s == nil {
		return nil
	}
	for _, unit := range s.Units {
		for _, class := range unit.Classes {
			if class.ClassID == classID {
				return class.Files
			}
		}
	}
	return nil
}

// UnitMergeHint returns the recorded merge provenance for a unit.
func (s *CourseSummary) UnitMergeHint(unitNumber int) pdfutil.MergeHint {
	if s == nil {
		return pdfutil.MergeHint{}
	}
	for _, unit := range s.Units {
		if unit.UnitNumber == unitNumber {
			return pdfutil.MergeHint{
				InputsDigest: unit.MergedInputsSHA,
				OutputDigest: unit.MergedPDFSHA,
			}
		}
	}
	return pdfutil.MergeHint{}
}

// ESAMergeHint returns the recorded merge provenance for the aggregate PDF.
func (s *CourseSummary) ESAMergeHint() pdfutil.MergeHint {
	if s == nil {
		return pdfutil.MergeHint{}
	}
	return pdfutil.MergeHint{
		InputsDigest: s.ESAInputsSHA,
		OutputDigest: s.ESAPDFSHA,
	}
}
