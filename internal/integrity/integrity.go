// Package integrity provides content hashing and file-kind detection for the
// download pipeline. Digests are the basis of every "nothing changed" skip
// decision, so they depend only on file bytes, never on filesystem metadata.
package integrity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileDigest computes the streaming SHA-256 of a file's full contents,
// returned as lowercase hex.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CompositeDigest summarizes an ordered set of PDFs as one digest. Inputs are
// sorted by base name, non-PDF suffixes are skipped, and each contributes
// "name:digest" ("name:missing" when unreadable) to a ";"-joined string that
// is then hashed. The result is a pure function of the name and digest
// sequence: any reorder or single content change produces a different value.
func CompositeDigest(paths []string) string {
	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Slice(sorted, func(i, j int) bool {
		return filepath.Base(sorted[i]) < filepath.Base(sorted[j])
	})

	var pieces []string
	for _, p := range sorted {
		if strings.ToLower(filepath.Ext(p)) != ".pdf" {
			continue
		}
		part := "missing"
		if sum, err := FileDigest(p); err == nil {
			part = sum
		}
		pieces = append(pieces, filepath.Base(p)+":"+part)
	}

	sum := sha256.Sum256([]byte(strings.Join(pieces, ";")))
	return hex.EncodeToString(sum[:])
}

// readPrefix returns up to size leading bytes of a file, or nil on error.
func readPrefix(path string, size int) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	buf := make([]byte, size)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil
	}
	return buf[:n]
}

// IsPDFData reports whether data begins with the PDF signature.
func IsPDFData(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF"))
}

// IsPDF reports whether the file at path carries a PDF signature.
func IsPDF(path string) bool {
	return IsPDFData(readPrefix(path, 8))
}

// IsZipContainerData reports whether data begins with the ZIP signature.
// Office OpenXML formats (pptx, docx, xlsx) are ZIP containers.
func IsZipContainerData(data []byte) bool {
	return bytes.HasPrefix(data, []byte("PK"))
}

// IsZipContainer reports whether the file at path is a ZIP container.
func IsZipContainer(path string) bool {
	return IsZipContainerData(readPrefix(path, 8))
}

// LooksLikeHTMLData reports whether data appears to be an HTML document. The
// portal serves HTML error or login pages with document content types, so
// downloads are sniffed before conversion is attempted.
func LooksLikeHTMLData(data []byte) bool {
	trimmed := bytes.ToLower(bytes.TrimLeft(data, " \t\r\n"))
	return bytes.HasPrefix(trimmed, []byte("<!doctype html")) || bytes.HasPrefix(trimmed, []byte("<html"))
}

// LooksLikeHTML reports whether the file at path appears to be HTML.
func LooksLikeHTML(path string) bool {
	return LooksLikeHTMLData(readPrefix(path, 512))
}

// contentTypeExts maps portal content types to file extensions.
var contentTypeExts = map[string]string{
	"application/pdf": "pdf",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
	"application/vnd.ms-powerpoint": "ppt",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
	"application/msword": "doc",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": "xlsx",
	"application/vnd.ms-excel": "xls",
}

// DetectExt determines the extension (without dot) for a downloaded file.
// Priority: content-type header, then the filename's own extension, then
// magic-byte sniffing of the leading bytes. Defaults to "pdf".
func DetectExt(contentType, filename string, head []byte) string {
	ct := contentType
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.TrimSpace(strings.ToLower(ct))

	if ext, ok := contentTypeExts[ct]; ok {
		return ext
	}

	if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), ".")); ext != "" {
		return ext
	}

	switch {
	case IsPDFData(head):
		return "pdf"
	case IsZipContainerData(head):
		// ZIP container without a filename hint: slide decks dominate the
		// portal's document pool, so assume pptx.
		return "pptx"
	}
	return "pdf"
}
