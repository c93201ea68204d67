package batch

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/slatedl/slate/internal/home"
)

// Index lists every course directory that holds a summary, for consumers
// that serve the download tree.
type Index struct {
	Courses   []string `json:"courses"`
	UpdatedAt string   `json:"updated_at"`
}

// UpdateIndex rewrites index.json in baseDir from the directories actually
// present. A course directory qualifies only if a run completed far enough
// to write its summary file.
func UpdateIndex(baseDir string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return fmt.Errorf("failed to read courses directory: %w", err)
	}

	courses := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "course") {
			continue
		}
		if hasSummary(filepath.Join(baseDir, entry.Name())) {
			courses = append(courses, entry.Name())
		}
	}

	index := Index{
		Courses:   courses,
		UpdatedAt: time.Now().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}

	indexPath := filepath.Join(baseDir, home.IndexFileName)
	if err := os.WriteFile(indexPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}

	logger.Info("updated courses index", "courses", len(courses), "path", indexPath)
	return nil
}

func hasSummary(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), "_course_summary.json") {
			return true
		}
	}
	return false
}
