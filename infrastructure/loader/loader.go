// Package loader walks a corpus root and yields the source files an index
// build consumes, in sorted path order so rebuilds are reproducible.
package loader

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// File is one loadable source file: its path relative to the corpus root,
// its full content, and the inferred language (empty when unknown).
type File struct {
	path     string
	content  string
	language string
}

func (f File) Path() string     { return f.path }
func (f File) Content() string  { return f.content }
func (f File) Language() string { return f.language }

// Config bounds what the loader yields.
type Config struct {
	// Extensions is the allow-list of file extensions (without leading
	// dot). Empty means every extension with a known language.
	Extensions []string
	// MaxFileSize skips files larger than this many bytes. Zero means
	// the default.
	MaxFileSize int64
	// MaxInvalidBytes bounds the UTF-8 repair attempt: a file with more
	// invalid bytes than this is skipped rather than repaired.
	MaxInvalidBytes int
}

// DefaultConfig returns the loader defaults.
func DefaultConfig() Config {
	return Config{
		MaxFileSize:     2 * 1024 * 1024,
		MaxInvalidBytes: 1024,
	}
}

// Loader yields (path, content, language) triples over one corpus root.
type Loader struct {
	config Config
	logger *slog.Logger
}

// New creates a Loader.
func New(config Config, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxFileSize <= 0 {
		config.MaxFileSize = DefaultConfig().MaxFileSize
	}
	if config.MaxInvalidBytes <= 0 {
		config.MaxInvalidBytes = DefaultConfig().MaxInvalidBytes
	}
	return &Loader{config: config, logger: logger}
}

// Files streams the corpus's files through a channel in sorted path order.
// The channel is closed when the walk completes or ctx is cancelled;
// callers that stop early must cancel ctx to release the producing
// goroutine.
func (l *Loader) Files(ctx context.Context, root string) (<-chan File, error) {
	paths, ignore, err := l.collectPaths(root)
	if err != nil {
		return nil, err
	}

	out := make(chan File)
	go func() {
		defer close(out)
		for _, rel := range paths {
			if ctx.Err() != nil {
				return
			}
			f, ok := l.loadOne(root, rel, ignore)
			if !ok {
				continue
			}
			select {
			case out <- f:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Load collects every file eagerly. Convenience wrapper for callers that
// want the whole corpus at once (the delta computation in the indexer
// needs the full sorted list anyway).
func (l *Loader) Load(ctx context.Context, root string) ([]File, error) {
	ch, err := l.Files(ctx, root)
	if err != nil {
		return nil, err
	}
	var files []File
	for f := range ch {
		files = append(files, f)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

func (l *Loader) collectPaths(root string) ([]string, IgnorePattern, error) {
	ignore, err := NewIgnorePattern(root)
	if err != nil {
		return nil, IgnorePattern{}, err
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if ignore.IgnoreDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, IgnorePattern{}, err
	}

	sort.Strings(paths)
	return paths, ignore, nil
}

func (l *Loader) loadOne(root, rel string, ignore IgnorePattern) (File, bool) {
	if ignore.ShouldIgnore(rel) {
		return File{}, false
	}

	ext := extensionFromPath(rel)
	if !l.extensionAllowed(ext) {
		return File{}, false
	}

	abs := filepath.Join(root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if err != nil {
		l.logger.Warn("stat failed, skipping file", "path", rel, "error", err)
		return File{}, false
	}
	if info.Size() > l.config.MaxFileSize {
		l.logger.Debug("skipping oversized file", "path", rel, "size", info.Size())
		return File{}, false
	}

	raw, err := os.ReadFile(abs)
	if err != nil {
		l.logger.Warn("read failed, skipping file", "path", rel, "error", err)
		return File{}, false
	}

	content, ok := l.repairUTF8(raw)
	if !ok {
		l.logger.Debug("skipping non-UTF-8 file", "path", rel)
		return File{}, false
	}

	return File{
		path:     rel,
		content:  content,
		language: languageForFile(rel, content),
	}, true
}

func (l *Loader) extensionAllowed(ext string) bool {
	if len(l.config.Extensions) == 0 {
		return languageFromExtension(ext) != ""
	}
	for _, allowed := range l.config.Extensions {
		if strings.EqualFold(strings.TrimPrefix(allowed, "."), ext) {
			return true
		}
	}
	return false
}

// repairUTF8 returns the content as valid UTF-8, dropping invalid byte
// sequences when there are few enough of them to plausibly be stray
// encoding damage rather than a binary file.
func (l *Loader) repairUTF8(raw []byte) (string, bool) {
	if utf8.Valid(raw) {
		return string(raw), true
	}
	invalid := 0
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRune(raw[i:])
		if r == utf8.RuneError && size == 1 {
			invalid++
			if invalid > l.config.MaxInvalidBytes {
				return "", false
			}
		}
		i += size
	}
	return strings.ToValidUTF8(string(raw), ""), true
}
