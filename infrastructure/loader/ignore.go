package loader

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Directories never descended into, regardless of gitignore rules.
var builtinIgnoreDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
	".venv":        true,
	"venv":         true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".idea":        true,
	".vscode":      true,
}

// Extensions that are never source text, skipped before reading.
var builtinIgnoreExts = map[string]bool{
	"png": true, "jpg": true, "jpeg": true, "gif": true, "ico": true,
	"pdf": true, "zip": true, "tar": true, "gz": true, "bz2": true,
	"xz": true, "7z": true, "exe": true, "dll": true, "so": true,
	"dylib": true, "a": true, "o": true, "bin": true, "dat": true,
	"db": true, "sqlite": true, "woff": true, "woff2": true, "ttf": true,
	"eot": true, "mp3": true, "mp4": true, "mov": true, "avi": true,
	"onnx": true, "pt": true, "safetensors": true,
}

// IgnorePattern combines gitignore rules found under the corpus root, a
// .noindex file of extra patterns, and the built-in list.
type IgnorePattern struct {
	base         string
	matcher      gitignore.Matcher
	noIndexRules []string
}

// NewIgnorePattern creates an IgnorePattern for the given base directory.
// Returns an error if the base directory does not exist or is not a
// directory.
func NewIgnorePattern(base string) (IgnorePattern, error) {
	info, err := os.Stat(base)
	if err != nil {
		return IgnorePattern{}, err
	}
	if !info.IsDir() {
		return IgnorePattern{}, &NotDirectoryError{Path: base}
	}

	pattern := IgnorePattern{base: base}

	// Gitignore rules apply whenever .gitignore files exist, whether or
	// not the directory is a git repository. Matching runs in-process —
	// no git subprocess per file.
	patterns, err := gitignore.ReadPatterns(osfs.New(base), nil)
	if err == nil && len(patterns) > 0 {
		pattern.matcher = gitignore.NewMatcher(patterns)
	}

	if rules, err := loadNoIndexPatterns(filepath.Join(base, ".noindex")); err == nil {
		pattern.noIndexRules = rules
	}

	return pattern, nil
}

// IgnoreDir reports whether a directory (relative path) should be skipped
// entirely.
func (p IgnorePattern) IgnoreDir(rel string) bool {
	if rel == "." {
		return false
	}
	name := filepath.Base(rel)
	if builtinIgnoreDirs[name] || strings.HasPrefix(name, ".") && name != "." {
		return true
	}
	if p.matcher != nil && p.matcher.Match(strings.Split(filepath.ToSlash(rel), "/"), true) {
		return true
	}
	return false
}

// ShouldIgnore reports whether a file (relative path, forward slashes)
// should be skipped.
func (p IgnorePattern) ShouldIgnore(rel string) bool {
	if builtinIgnoreExts[extensionFromPath(rel)] {
		return true
	}
	if strings.HasPrefix(rel, ".git/") || rel == ".git" {
		return true
	}
	if p.matcher != nil && p.matcher.Match(strings.Split(rel, "/"), false) {
		return true
	}
	return p.matchNoIndex(rel)
}

// matchNoIndex checks if the path matches .noindex patterns.
func (p IgnorePattern) matchNoIndex(rel string) bool {
	for _, pattern := range p.noIndexRules {
		matched, err := filepath.Match(pattern, rel)
		if err == nil && matched {
			return true
		}
		for _, part := range strings.Split(rel, "/") {
			matched, err = filepath.Match(pattern, part)
			if err == nil && matched {
				return true
			}
		}
	}
	return false
}

// loadNoIndexPatterns reads patterns from a .noindex file.
func loadNoIndexPatterns(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// NotDirectoryError indicates the path is not a directory.
type NotDirectoryError struct {
	Path string
}

func (e *NotDirectoryError) Error() string {
	return "path is not a directory: " + e.Path
}
