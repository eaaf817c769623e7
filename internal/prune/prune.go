// Package prune deletes downloaded model files that are not needed at runtime or are too large
// for storage constrained targets.
package prune

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/ogero/stt-models/internal/common"
)

// Rule selects files to delete by base name and, optionally, by size.
type Rule struct {
	// Name identifies the rule in logs and metrics.
	Name string
	// Pattern is a filepath.Match glob applied to the base name.
	Pattern string
	// CaseInsensitive matches the pattern against the lowercased name.
	CaseInsensitive bool
	// MinSize, when greater than 0, only selects files strictly larger than it.
	MinSize int64
}

// Match reports whether the file named name with the given size is selected by the rule.
func (r Rule) Match(name string, size int64) bool {
	pattern := r.Pattern
	if r.CaseInsensitive {
		name = strings.ToLower(name)
		pattern = strings.ToLower(pattern)
	}

	ok, err := filepath.Match(pattern, name)
	if err != nil || !ok {
		return false
	}

	return r.MinSize <= 0 || size > r.MinSize
}

// Validate checks the rule pattern is a well formed glob.
func (r Rule) Validate() error {
	if r.Pattern == "" {
		return fmt.Errorf("rule %q has an empty pattern", r.Name)
	}
	if _, err := filepath.Match(r.Pattern, ""); err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	return nil
}

// BinaryModelRule deletes every file matching pattern regardless of size.
func BinaryModelRule(pattern string) Rule {
	return Rule{Name: "binary-model", Pattern: pattern}
}

// ScorerRule deletes scorer files larger than maxSize.
func ScorerRule(pattern string, maxSize int64) Rule {
	return Rule{Name: "scorer", Pattern: pattern, CaseInsensitive: true, MinSize: maxSize}
}

// Result summarizes a prune pass.
type Result struct {
	// Removed lists the deleted file paths.
	Removed []string
	// Bytes is the total size of the deleted files.
	Bytes int64
}

// Pruner deletes the files selected by its rules.
type Pruner struct {
	rules []Rule
}

// NewPruner creates a Pruner applying rules in order; a file is removed by the first rule matching it.
func NewPruner(rules ...Rule) (*Pruner, error) {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	return &Pruner{rules: rules}, nil
}

// Prune walks dir recursively and deletes every regular file selected by a rule.
// It is best effort: a missing dir or a failed removal is logged and skipped.
func (p *Pruner) Prune(ctx context.Context, dir string) Result {
	var res Result
	perRule := make(map[string]*Result, len(p.rules))

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && path == dir {
				return fs.SkipAll
			}
			common.Log.WarnContext(ctx, "Failed to walk", "path", path, "err", err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			common.Log.WarnContext(ctx, "Failed to fs.DirEntry.Info", "path", path, "err", err)
			return nil
		}

		for _, rule := range p.rules {
			if !rule.Match(d.Name(), info.Size()) {
				continue
			}
			if err := os.Remove(path); err != nil {
				common.Log.WarnContext(ctx, "Failed to os.Remove", "path", path, "err", err)
				break
			}
			common.Log.DebugContext(ctx, "Pruned", "path", path, "rule", rule.Name, "size", humanize.IBytes(uint64(info.Size())))

			res.Removed = append(res.Removed, path)
			res.Bytes += info.Size()

			rr, ok := perRule[rule.Name]
			if !ok {
				rr = &Result{}
				perRule[rule.Name] = rr
			}
			rr.Removed = append(rr.Removed, path)
			rr.Bytes += info.Size()
			break
		}

		return nil
	})
	if err != nil {
		common.Log.WarnContext(ctx, "Prune interrupted", "dir", dir, "err", err)
	}

	for name, rr := range perRule {
		common.FilesPrunedTotalAdd(ctx, name, len(rr.Removed), rr.Bytes)
	}

	return res
}
