// Package picker selects a course from the subject listing, either
// interactively through fzf or by matching an identifier or name pattern.
package picker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var (
	// ErrCancelled indicates the user aborted the interactive selection.
	ErrCancelled = errors.New("selection cancelled")

	// ErrNoMatch indicates no option matched the given pattern.
	ErrNoMatch = errors.New("no matching course")
)

// Option is one selectable entry.
type Option struct {
	ID    string
	Label string
}

// Selector picks one option from a list.
type Selector interface {
	Select(ctx context.Context, options []Option) (Option, error)
}

// Fzf selects through an external fzf process. Options are piped one per
// line as "id | label"; the id of the chosen line is matched back.
type Fzf struct {
	// Path overrides fzf binary discovery.
	Path string
	// Prompt is shown in the fzf header.
	Prompt string
}

// Select runs fzf over the options.
func (f *Fzf) Select(ctx context.Context, options []Option) (Option, error) {
	if len(options) == 0 {
		return Option{}, ErrNoMatch
	}

	path := f.Path
	if path == "" {
		found, err := exec.LookPath("fzf")
		if err != nil {
			return Option{}, fmt.Errorf("fzf not found, use an explicit course id instead: %w", err)
		}
		path = found
	}

	var input bytes.Buffer
	for _, opt := range options {
		fmt.Fprintf(&input, "%s | %s\n", opt.ID, opt.Label)
	}

	args := []string{"--no-multi"}
	if f.Prompt != "" {
		args = append(args, "--prompt", f.Prompt)
	}

	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdin = &input
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		// fzf exits 130 on escape and 1 on no match
		return Option{}, fmt.Errorf("%w: %v", ErrCancelled, err)
	}

	chosen := strings.TrimSpace(string(out))
	id, _, ok := strings.Cut(chosen, "|")
	if !ok {
		return Option{}, fmt.Errorf("unexpected fzf output: %q", chosen)
	}
	id = strings.TrimSpace(id)

	for _, opt := range options {
		if opt.ID == id {
			return opt, nil
		}
	}
	return Option{}, fmt.Errorf("fzf returned unknown id %q", id)
}

// Match picks options by identifier or pattern without any UI. An exact ID
// match wins; otherwise every option whose label contains the pattern
// case-insensitively is returned.
func Match(options []Option, pattern string) ([]Option, error) {
	if pattern == "" {
		return nil, ErrNoMatch
	}

	for _, opt := range options {
		if opt.ID == pattern {
			return []Option{opt}, nil
		}
	}

	needle := strings.ToLower(pattern)
	var matched []Option
	for _, opt := range options {
		if strings.Contains(strings.ToLower(opt.Label), needle) {
			matched = append(matched, opt)
		}
	}
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrNoMatch, pattern)
	}
	return matched, nil
}
