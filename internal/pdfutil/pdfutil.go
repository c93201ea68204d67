// Package pdfutil wraps pdfcpu with the merge primitive used by the unit and
// course pipelines: signature validation, candidate deduplication, and a
// digest-gated merge that is a no-op when nothing changed since the last run.
package pdfutil

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/slatedl/slate/internal/integrity"
)

// ErrNoValidInputs is returned by Merge when none of the candidate files is a
// usable PDF.
var ErrNoValidInputs = errors.New("no valid PDF inputs to merge")

// Valid reports whether path is an existing, non-empty file with a PDF
// signature.
func Valid(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return false
	}
	return integrity.IsPDF(path)
}

// PageCount returns the number of pages in a PDF.
func PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	count, err := api.PageCount(f, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count for %s: %w", path, err)
	}
	return count, nil
}

// UniqueExisting filters merge candidates: deduplicates by resolved path
// (first-seen order preserved), drops anything that is not an existing,
// non-empty, signature-valid PDF, and drops prior merge outputs so a merged
// or aggregate PDF is never folded back into itself.
func UniqueExisting(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	var out []string
	for _, p := range paths {
		if p == "" || strings.ToLower(filepath.Ext(p)) != ".pdf" {
			continue
		}
		name := filepath.Base(p)
		if strings.HasSuffix(name, "_merged.pdf") || strings.HasSuffix(name, "_ESA.pdf") {
			continue
		}
		if !Valid(p) {
			continue
		}

		key := p
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			if abs, err := filepath.Abs(resolved); err == nil {
				key = abs
			}
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	return out
}

// MergeHint carries the digests a prior run recorded for a merge output,
// loaded from the persisted course summary. It lets Merge recognize an
// unchanged input set without re-reading a byte of the old run's bookkeeping.
type MergeHint struct {
	// InputsDigest is the composite digest of the input set the prior run merged.
	InputsDigest string
	// OutputDigest is the digest of the merged file the prior run produced.
	OutputDigest string
}

// Merge concatenates the given PDFs, in order, into outputPath.
//
// Before writing it computes the composite digest of the inputs; the merge is
// skipped (returning skipped=true) when the existing output's own digest
// matches that composite, or when the hint shows the prior run merged an
// identical input set and the output on disk is still the file it wrote.
// Inputs that are missing, empty, or not signature-valid PDFs are dropped;
// if nothing usable remains the merge fails with ErrNoValidInputs.
func Merge(logger *slog.Logger, inputs []string, outputPath string, hint MergeHint) (skipped bool, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	composite := integrity.CompositeDigest(inputs)

	if existing, derr := integrity.FileDigest(outputPath); derr == nil {
		if existing == composite {
			logger.Debug("skipping merge, output up to date", "output", filepath.Base(outputPath))
			return true, nil
		}
		if hint.InputsDigest != "" && hint.InputsDigest == composite && hint.OutputDigest == existing {
			logger.Debug("skipping merge, input set unchanged since prior run", "output", filepath.Base(outputPath))
			return true, nil
		}
	}

	var valid []string
	for _, p := range inputs {
		if !Valid(p) {
			logger.Warn("dropping invalid merge input", "file", filepath.Base(p))
			continue
		}
		valid = append(valid, p)
	}
	if len(valid) == 0 {
		return false, fmt.Errorf("%w (candidates: %d)", ErrNoValidInputs, len(inputs))
	}

	if err := api.MergeCreateFile(valid, outputPath, false, nil); err != nil {
		return false, fmt.Errorf("failed to merge %d PDFs into %s: %w", len(valid), filepath.Base(outputPath), err)
	}

	logger.Debug("merged PDFs", "count", len(valid), "output", filepath.Base(outputPath))
	return false, nil
}
