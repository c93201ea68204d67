// Package convert turns downloaded Office documents into PDFs by shelling
// out to LibreOffice, and reconciles unit directories so every convertible
// source ends up with a valid PDF next to it.
package convert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/slatedl/slate/internal/integrity"
)

var (
	// ErrNoConverter indicates no LibreOffice binary could be located.
	ErrNoConverter = errors.New("no office-to-pdf converter available")

	// ErrNotOfficeDocument indicates the input is not a real Office file;
	// the portal serves HTML login or error pages under document names.
	ErrNotOfficeDocument = errors.New("input is not a valid office document")
)

// PDFConverter produces a PDF for a source document, returning the PDF path.
type PDFConverter interface {
	ToPDF(ctx context.Context, src string) (string, error)
}

// officeExts are the source formats the gateway converts.
var officeExts = map[string]bool{
	".pptx": true,
	".ppt":  true,
	".docx": true,
	".doc":  true,
	".xlsx": true,
	".xls":  true,
}

// zipBasedExts are OOXML formats that must be ZIP containers on disk.
var zipBasedExts = map[string]bool{
	".pptx": true,
	".docx": true,
	".xlsx": true,
}

const repairedSuffix = "_repaired"

// Options configures a Soffice converter.
type Options struct {
	// SofficePath overrides binary discovery when non-empty.
	SofficePath string

	// Timeout bounds a single conversion invocation. Default 180s.
	Timeout time.Duration

	// RepairTimeout bounds a zip repair invocation. Default 60s.
	RepairTimeout time.Duration

	// KeepRepaired retains {stem}_repaired artifacts after a successful
	// repair-and-convert instead of cleaning them up.
	KeepRepaired bool

	Logger *slog.Logger
}

// Soffice converts Office documents to PDF via headless LibreOffice.
type Soffice struct {
	soffice       string
	timeout       time.Duration
	repairTimeout time.Duration
	keepRepaired  bool
	logger        *slog.Logger
}

// NewSoffice creates a converter, discovering the LibreOffice binary if no
// explicit path is configured. The returned converter may be unable to
// convert (soffice missing); ToPDF then fails with ErrNoConverter so the
// pipeline can record the miss instead of aborting.
func NewSoffice(opts Options) *Soffice {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	repairTimeout := opts.RepairTimeout
	if repairTimeout <= 0 {
		repairTimeout = 60 * time.Second
	}

	return &Soffice{
		soffice:       discoverSoffice(opts.SofficePath),
		timeout:       timeout,
		repairTimeout: repairTimeout,
		keepRepaired:  opts.KeepRepaired,
		logger:        logger,
	}
}

// discoverSoffice resolves the LibreOffice binary: explicit override, PATH
// lookup, then well-known install locations.
func discoverSoffice(override string) string {
	if override != "" {
		return override
	}
	for _, name := range []string{"soffice", "libreoffice"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	for _, path := range []string{
		"/usr/bin/soffice",
		"/usr/bin/libreoffice",
		"/Applications/LibreOffice.app/Contents/MacOS/soffice",
	} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ToPDF converts src into a same-stem PDF and returns the PDF path. A src
// that already is a PDF is returned unchanged. On loader errors the input is
// repaired once with zip -FF and the conversion retried against the repaired
// copy; the repaired artifacts are removed unless KeepRepaired is set.
func (s *Soffice) ToPDF(ctx context.Context, src string) (string, error) {
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("conversion source not found: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(src))
	if ext == ".pdf" {
		return src, nil
	}
	output := strings.TrimSuffix(src, filepath.Ext(src)) + ".pdf"

	if zipBasedExts[ext] && !integrity.IsZipContainer(src) {
		if integrity.LooksLikeHTML(src) {
			return "", fmt.Errorf("%w: %s looks like an HTML page (auth redirect or server error)", ErrNotOfficeDocument, filepath.Base(src))
		}
		return "", fmt.Errorf("%w: %s is not a ZIP container", ErrNotOfficeDocument, filepath.Base(src))
	}

	if s.soffice == "" {
		return "", ErrNoConverter
	}

	stderr, err := s.runSoffice(ctx, src, filepath.Dir(src))
	if err == nil && pdfReady(output) {
		s.logger.Debug("converted to PDF", "source", filepath.Base(src), "output", filepath.Base(output))
		return output, nil
	}
	// An empty or signature-less output would poison later existence checks.
	dropInvalid(output)

	if loaderError(stderr) {
		s.logger.Warn("converter failed to load file, attempting zip repair", "source", filepath.Base(src))
		if out, rerr := s.repairAndConvert(ctx, src, output); rerr == nil {
			return out, nil
		} else {
			s.logger.Warn("zip repair failed", "source", filepath.Base(src), "error", rerr)
		}
	}

	if err != nil {
		return "", fmt.Errorf("conversion failed for %s: %w", filepath.Base(src), err)
	}
	return "", fmt.Errorf("conversion produced no valid PDF for %s", filepath.Base(src))
}

// runSoffice executes one headless conversion with an isolated user profile,
// bounded by the configured timeout. Returns combined output for diagnosis.
func (s *Soffice) runSoffice(ctx context.Context, input, outDir string) (string, error) {
	profileDir, err := os.MkdirTemp("", "slate-lo-profile-*")
	if err != nil {
		return "", fmt.Errorf("failed to create profile dir: %w", err)
	}
	defer os.RemoveAll(profileDir)

	profileURL := (&url.URL{Scheme: "file", Path: profileDir}).String()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.soffice,
		"--headless",
		"--nologo",
		"--nofirststartwizard",
		"--norestore",
		"-env:UserInstallation="+profileURL,
		"--convert-to", "pdf",
		"--outdir", outDir,
		input,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("soffice failed: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// repairAndConvert runs zip -FF over a corrupt OOXML container and converts
// the repaired copy, normalizing the result back to the original stem.
func (s *Soffice) repairAndConvert(ctx context.Context, src, output string) (string, error) {
	zipExe, err := exec.LookPath("zip")
	if err != nil {
		return "", fmt.Errorf("zip tool not found: %w", err)
	}

	ext := filepath.Ext(src)
	repaired := strings.TrimSuffix(src, ext) + repairedSuffix + ext
	repairedPDF := strings.TrimSuffix(repaired, ext) + ".pdf"

	cleanup := func() {
		if s.keepRepaired {
			return
		}
		os.Remove(repaired)
		os.Remove(repairedPDF)
	}

	rctx, cancel := context.WithTimeout(ctx, s.repairTimeout)
	defer cancel()

	cmd := exec.CommandContext(rctx, zipExe, "-FF", src, "--out", repaired)
	cmd.Stdin = strings.NewReader("y\n")
	if out, err := cmd.CombinedOutput(); err != nil {
		cleanup()
		return "", fmt.Errorf("zip -FF failed: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}

	info, err := os.Stat(repaired)
	if err != nil || info.Size() == 0 || !integrity.IsZipContainer(repaired) {
		cleanup()
		return "", fmt.Errorf("repair produced no usable archive for %s", filepath.Base(src))
	}

	if _, err := s.runSoffice(ctx, repaired, filepath.Dir(src)); err != nil {
		cleanup()
		return "", err
	}
	if !pdfReady(repairedPDF) {
		cleanup()
		return "", fmt.Errorf("repaired file did not convert to a valid PDF: %s", filepath.Base(repaired))
	}

	if err := os.Rename(repairedPDF, output); err != nil {
		cleanup()
		return "", fmt.Errorf("failed to move repaired PDF into place: %w", err)
	}

	if !s.keepRepaired {
		os.Remove(repaired)
	}
	s.logger.Debug("converted repaired file to PDF", "source", filepath.Base(src), "output", filepath.Base(output))
	return output, nil
}

// pdfReady reports whether path is a non-empty file with a PDF signature.
func pdfReady(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return false
	}
	return integrity.IsPDF(path)
}

// dropInvalid removes an existing but empty or signature-less output file.
func dropInvalid(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	if info.Size() == 0 || !integrity.IsPDF(path) {
		os.Remove(path)
	}
}

// loaderError reports whether soffice output indicates the input could not
// be loaded, the signature of a corrupt ZIP container.
func loaderError(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "source file could not be loaded") ||
		strings.Contains(lower, "file format error")
}

// OfficeSources lists Office source documents in dir, excluding zip-repair
// artifacts.
func OfficeSources(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read unit directory: %w", err)
	}

	var sources []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if !officeExts[ext] {
			continue
		}
		if strings.HasSuffix(strings.TrimSuffix(name, filepath.Ext(name)), repairedSuffix) {
			continue
		}
		sources = append(sources, filepath.Join(dir, name))
	}
	return sources, nil
}

// Reconcile verifies every Office source in dir has a same-stem valid PDF,
// retrying a missed conversion synchronously once. It reports the total
// source count, how many have a PDF, and the names still missing one.
func Reconcile(ctx context.Context, dir string, conv PDFConverter, logger *slog.Logger) (total, converted int, missing []string) {
	if logger == nil {
		logger = slog.Default()
	}

	sources, err := OfficeSources(dir)
	if err != nil {
		logger.Warn("conversion reconciliation failed", "dir", dir, "error", err)
		return 0, 0, nil
	}

	for _, src := range sources {
		expected := strings.TrimSuffix(src, filepath.Ext(src)) + ".pdf"
		if pdfReady(expected) {
			converted++
			continue
		}

		pdf, err := conv.ToPDF(ctx, src)
		if err != nil {
			logger.Warn("conversion retry failed", "source", filepath.Base(src), "error", err)
			missing = append(missing, filepath.Base(src))
			continue
		}
		if pdfReady(pdf) {
			converted++
			continue
		}
		missing = append(missing, filepath.Base(src))
	}

	return len(sources), converted, missing
}
