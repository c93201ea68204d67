// Package names maps portal display text to filesystem-safe path segments.
//
// Two sanitization rules coexist on purpose: course and unit titles use
// hyphen separators, per-file segments (class names, link text) use
// underscores. Existing course trees were written with this split, so both
// rules are preserved for on-disk compatibility.
package names

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	maxClassSegment = 50
	maxLinkSegment  = 80
)

// SafeTitle sanitizes a course or unit title into a path segment: keeps
// alphanumerics, spaces and hyphens, replaces everything else with a hyphen,
// then collapses whitespace runs into single hyphens and trims separators.
func SafeTitle(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(strings.Join(strings.Fields(b.String()), "-"), "-")
}

// SafeFileSegment sanitizes a class name or link text into a filename
// segment: keeps alphanumerics, spaces, hyphens and underscores, replaces
// everything else with an underscore, then joins whitespace runs with
// underscores. Output is truncated to max runes.
func SafeFileSegment(s string, max int) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := strings.Join(strings.Fields(b.String()), "_")
	if runes := []rune(out); len(runes) > max {
		out = string(runes[:max])
	}
	return out
}

// CleanCourseName strips the subject-code prefix from a course display name.
// "UE22CS343BB3 - Cloud Computing" becomes "Cloud Computing".
func CleanCourseName(name string) string {
	if i := strings.Index(name, "-"); i >= 0 {
		return strings.TrimSpace(name[i+1:])
	}
	return name
}

// UnitTitle extracts the title portion of a unit display name. "Unit 1:
// Introduction" becomes "Introduction"; a name without a colon is used as-is.
// Falls back to "Unit-{n}" when sanitization leaves nothing.
func UnitTitle(name string, unitNumber int) string {
	title := name
	if i := strings.Index(name, ":"); i >= 0 {
		title = name[i+1:]
	}
	title = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(title), ":"))
	safe := SafeTitle(title)
	if safe == "" {
		return fmt.Sprintf("Unit-%d", unitNumber)
	}
	return safe
}

// CoursePrefix builds the prefix used for merged PDFs, the aggregate PDF,
// the summary file and the failure log: "{subjectCode}-{sanitizedName}".
func CoursePrefix(subjectCode, courseName string) string {
	return subjectCode + "-" + SafeTitle(CleanCourseName(courseName))
}

// ClassFileName names the primary file of a class:
// "{zeroPaddedNumber}_{sanitizedClassName}.{ext}".
func ClassFileName(classNumber int, className, ext string) string {
	return fmt.Sprintf("%02d_%s.%s", classNumber, SafeFileSegment(classBase(className), maxClassSegment), ext)
}

// LinkFileName names an additional file of a multi-file class, suffixing the
// sanitized link text so siblings never collide:
// "{zeroPaddedNumber}_{sanitizedClassName}_{sanitizedLinkText}.{ext}".
func LinkFileName(classNumber int, className, linkText, ext string) string {
	base := SafeFileSegment(classBase(className), maxClassSegment)
	link := SafeFileSegment(linkText, maxLinkSegment)
	if link == "" {
		return fmt.Sprintf("%02d_%s.%s", classNumber, base, ext)
	}
	return fmt.Sprintf("%02d_%s_%s.%s", classNumber, base, link, ext)
}

// classBase strips a leading "N." ordinal from a class display name.
func classBase(className string) string {
	if i := strings.Index(className, "."); i >= 0 {
		return strings.TrimSpace(className[i+1:])
	}
	return className
}
