package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/logging"
)

// Scanner expands files and folders.
type Scanner struct {
	logger *slog.Logger
}

// New creates a Scanner.
func New(logger *slog.Logger) *Scanner {
	return &Scanner{logger: logging.OrDiscard(logger)}
}

// Expand resolves paths into absolute file paths, sorted and de-duplicated.
// Directories are expanded according to opts; a missing path is NotFound.
func (s *Scanner) Expand(ctx context.Context, paths []string, opts Options) ([]string, error) {
	files, _, err := s.ExpandWithSkipped(ctx, paths, opts)
	return files, err
}

// ExpandWithSkipped is Expand that also returns what was passed over.
func (s *Scanner) ExpandWithSkipped(ctx context.Context, paths []string, opts Options) ([]string, []Skipped, error) {
	if err := validatePatterns(opts.Include); err != nil {
		return nil, nil, err
	}
	if err := validatePatterns(opts.Exclude); err != nil {
		return nil, nil, err
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}

	seen := make(map[string]struct{})
	var skipped []Skipped
	add := func(path string) { seen[path] = struct{}{} }

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, nil, vkberrors.ValidationError(fmt.Sprintf("invalid path %q", p), err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, nil, vkberrors.NotFoundError(abs, err)
		}
		if !info.IsDir() {
			add(abs)
			continue
		}

		dirSkipped, err := s.walk(ctx, abs, opts, add)
		if err != nil {
			return nil, nil, err
		}
		skipped = append(skipped, dirSkipped...)
	}

	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)

	s.logger.Debug("paths_expanded",
		slog.Int("inputs", len(paths)),
		slog.Int("files", len(files)),
		slog.Int("skipped", len(skipped)))
	return files, skipped, nil
}

func (s *Scanner) walk(ctx context.Context, root string, opts Options, add func(string)) ([]Skipped, error) {
	var skipped []Skipped
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if path == root {
				return vkberrors.New(vkberrors.ErrCodeFilePermission, fmt.Sprintf("cannot read %s", path), err)
			}
			s.logger.Warn("scan_entry_unreadable", slog.String("path", path), slog.String("error", err.Error()))
			return nil
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == root {
				return nil
			}
			if !opts.Recursive || excludedDir(rel, opts.Exclude) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		switch {
		case strings.HasPrefix(d.Name(), "."):
			return nil
		case matchesAny(rel, opts.Exclude):
			skipped = append(skipped, Skipped{Path: path, Reason: "excluded"})
			return nil
		case len(opts.Include) > 0 && !matchesAny(rel, opts.Include):
			return nil
		case opts.Supports != nil && !opts.Supports(path):
			skipped = append(skipped, Skipped{Path: path, Reason: "unsupported type"})
			return nil
		}

		if info, err := d.Info(); err == nil && info.Size() > opts.MaxFileSize {
			skipped = append(skipped, Skipped{Path: path, Reason: "too large"})
			return nil
		}
		add(path)
		return nil
	})
	return skipped, err
}

func validatePatterns(patterns []string) error {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return vkberrors.ValidationError(fmt.Sprintf("invalid pattern %q", p), nil)
		}
	}
	return nil
}

// matchesAny matches rel against each pattern, then its base name, so that
// "*.pdf" selects PDFs at any depth.
func matchesAny(rel string, patterns []string) bool {
	base := pathBase(rel)
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if !strings.Contains(p, "/") {
			if ok, _ := doublestar.Match(p, base); ok {
				return true
			}
		}
	}
	return false
}

func excludedDir(rel string, exclude []string) bool {
	for _, p := range defaultExcludeDirs {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	if strings.HasPrefix(pathBase(rel), ".") {
		return true
	}
	return matchesAny(rel, exclude)
}

func pathBase(rel string) string {
	if i := strings.LastIndex(rel, "/"); i >= 0 {
		return rel[i+1:]
	}
	return rel
}
