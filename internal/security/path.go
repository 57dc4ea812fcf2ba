package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ValidatePath resolves raw against the workspace root and returns the path
// to operate on. Each layer is checked independently: NUL bytes, ".."
// components, lexical containment (only when workspaceOnly is set),
// containment after symlink resolution, symlink targets, and (when
// checkSize is set) file size.
func (p *Policy) ValidatePath(raw string, checkSize bool) (string, error) {
	if raw == "" {
		return "", pathErr(raw, "empty path")
	}
	if strings.ContainsRune(raw, 0) {
		return "", pathErr(raw, "invalid path: null bytes")
	}
	for _, part := range strings.FieldsFunc(raw, isSep) {
		if part == ".." {
			return "", pathErr(raw, "path traversal not allowed")
		}
	}

	resolved := raw
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(p.root, resolved)
	}
	resolved = filepath.Clean(resolved)
	if p.workspaceOnly && !within(p.root, resolved) {
		return "", pathErr(raw, "path escapes workspace")
	}

	realRoot, err := filepath.EvalSymlinks(p.root)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	real, err := filepath.EvalSymlinks(resolved)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return "", pathErr(raw, "cannot resolve path")
		}
		// A dangling link also resolves to ErrNotExist.
		if fi, lerr := os.Lstat(resolved); lerr == nil && fi.Mode()&fs.ModeSymlink != 0 {
			return "", pathErr(raw, "symlinks not allowed")
		}
		// Target does not exist yet: the nearest existing ancestor decides.
		parent, err := nearestExisting(filepath.Dir(resolved))
		if err != nil {
			return "", pathErr(raw, "parent directory does not exist")
		}
		if !within(realRoot, parent) {
			return "", pathErr(raw, "path escapes workspace")
		}
		return resolved, nil
	}

	if !within(realRoot, real) {
		return "", pathErr(raw, "resolved path escapes workspace")
	}

	fi, err := os.Lstat(resolved)
	if err != nil {
		return "", pathErr(raw, "cannot stat path")
	}
	if fi.Mode()&fs.ModeSymlink != 0 {
		return "", pathErr(raw, "symlinks not allowed")
	}

	if checkSize && fi.Mode().IsRegular() && fi.Size() > MaxFileSize {
		return "", pathErr(raw, fmt.Sprintf("file too large: max %d bytes", MaxFileSize))
	}
	return real, nil
}

// nearestExisting walks up from dir and returns the canonical form of the
// first ancestor that exists.
func nearestExisting(dir string) (string, error) {
	for {
		real, err := filepath.EvalSymlinks(dir)
		if err == nil {
			return real, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		next := filepath.Dir(dir)
		if next == dir {
			return "", err
		}
		dir = next
	}
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func isSep(r rune) bool { return r == '/' || r == '\\' }
