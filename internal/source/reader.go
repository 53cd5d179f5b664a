// Package source reads the target repository: a recursive walk honoring an
// ignore set, a source-file snapshot for prompts, and the path containment
// check behind every file write the pipeline performs.
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ignoredDirs are never descended into. Hidden directories are also skipped,
// with an allowlist for configuration dirs that matter to analysis.
var ignoredDirs = map[string]bool{
	"node_modules": true,
	"dist":         true,
	"build":        true,
	"out":          true,
	"vendor":       true,
	"coverage":     true,
	"__pycache__":  true,
	".next":        true,
	"target":       true,
	"release":      true,
}

var allowedHiddenDirs = map[string]bool{
	".github": true,
}

// sourceExtensions are the file types included in snapshots.
var sourceExtensions = map[string]bool{
	".js": true, ".jsx": true, ".ts": true, ".tsx": true, ".mjs": true,
	".go": true, ".py": true, ".rb": true, ".rs": true, ".java": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cs": true,
	".css": true, ".scss": true, ".html": true, ".vue": true, ".svelte": true,
	".json": true, ".yaml": true, ".yml": true, ".toml": true,
	".md": true, ".sql": true, ".sh": true,
}

// File is one snapshotted source file.
type File struct {
	Path    string // relative to Root, forward slashes
	Content string
	Lines   int
}

// Reader walks one repository root.
type Reader struct {
	Root        string
	MaxFileSize int64
}

// NewReader creates a reader with a 256 KiB per-file ceiling.
func NewReader(root string) *Reader {
	return &Reader{Root: root, MaxFileSize: 256 * 1024}
}

// Snapshot returns up to maxFiles source files, ordered by path. Files over
// the size ceiling, binary-looking files, and ignored directories are
// skipped. maxFiles <= 0 means no cap.
func (r *Reader) Snapshot(maxFiles int) ([]File, error) {
	paths, err := r.ListPaths()
	if err != nil {
		return nil, err
	}

	var files []File
	for _, rel := range paths {
		if maxFiles > 0 && len(files) >= maxFiles {
			break
		}
		data, err := os.ReadFile(filepath.Join(r.Root, rel))
		if err != nil {
			continue
		}
		content := string(data)
		if strings.ContainsRune(content, '\x00') {
			continue
		}
		files = append(files, File{
			Path:    rel,
			Content: content,
			Lines:   strings.Count(content, "\n") + 1,
		})
	}
	return files, nil
}

// ListPaths returns every includable source path relative to Root, sorted.
func (r *Reader) ListPaths() ([]string, error) {
	maxSize := r.MaxFileSize
	if maxSize <= 0 {
		maxSize = 256 * 1024
	}

	var paths []string
	err := filepath.Walk(r.Root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		name := info.Name()
		if info.IsDir() {
			if path == r.Root {
				return nil
			}
			if ignoredDirs[name] {
				return filepath.SkipDir
			}
			if strings.HasPrefix(name, ".") && !allowedHiddenDirs[name] {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Size() > maxSize {
			return nil
		}
		if !sourceExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		rel, err := filepath.Rel(r.Root, path)
		if err != nil {
			return nil
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", r.Root, err)
	}

	sort.Strings(paths)
	return paths, nil
}

// Read returns the content of one file after validating containment.
func (r *Reader) Read(relPath string) (string, error) {
	abs, err := r.ValidatePath(relPath)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", relPath, err)
	}
	return string(data), nil
}

// Write replaces one file's content after validating containment. This is
// the whole-file-replace primitive the coding phase uses.
func (r *Reader) Write(relPath, content string) error {
	abs, err := r.ValidatePath(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", relPath, err)
	}
	if err := os.WriteFile(abs, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", relPath, err)
	}
	return nil
}

// ValidatePath resolves relPath against Root and confirms the result stays
// inside Root. Returns the absolute path.
func (r *Reader) ValidatePath(relPath string) (string, error) {
	root, err := filepath.Abs(r.Root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve root: %w", err)
	}
	abs := filepath.Clean(filepath.Join(root, filepath.FromSlash(relPath)))
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes repository root: %s", relPath)
	}
	return abs, nil
}

// Tree renders a compact sorted listing for prompt context, capped at
// maxEntries lines.
func (r *Reader) Tree(maxEntries int) (string, error) {
	paths, err := r.ListPaths()
	if err != nil {
		return "", err
	}
	if maxEntries > 0 && len(paths) > maxEntries {
		paths = append(paths[:maxEntries], fmt.Sprintf("... and %d more files", len(paths)-maxEntries))
	}
	return strings.Join(paths, "\n"), nil
}
