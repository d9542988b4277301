// Package pathsanitizer confirms a constructed file path actually resolves
// inside its owning volume's mount before any read, write, or delete touches
// disk. A failure here is a programming error, not a user-facing "not
// found" — path construction is entirely internal and must never be
// influenced by untrusted input.
package pathsanitizer

import (
	"fmt"
	"os"
	"path/filepath"
)

// IsWithin reports whether candidate resolves to a location inside base,
// after both are made absolute and symlink-resolved. base itself is
// considered within base.
func IsWithin(base, candidate string) (bool, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return false, fmt.Errorf("resolve base %q: %w", base, err)
	}
	absCandidate, err := filepath.Abs(candidate)
	if err != nil {
		return false, fmt.Errorf("resolve candidate %q: %w", candidate, err)
	}

	resolvedBase, err := resolveExisting(absBase)
	if err != nil {
		return false, fmt.Errorf("resolve symlinks for base %q: %w", absBase, err)
	}
	resolvedCandidate, err := resolveExisting(absCandidate)
	if err != nil {
		return false, fmt.Errorf("resolve symlinks for candidate %q: %w", absCandidate, err)
	}

	rel, err := filepath.Rel(resolvedBase, resolvedCandidate)
	if err != nil {
		return false, nil
	}
	if rel == ".." || (len(rel) >= 3 && rel[:3] == ".."+string(filepath.Separator)) {
		return false, nil
	}
	return true, nil
}

// resolveExisting walks up from path until it finds a segment that exists
// on disk, resolves symlinks there, and rejoins the unresolved remainder.
// This lets IsWithin validate paths that are about to be created (the leaf
// file does not exist yet) while still catching a symlinked ancestor
// directory that would escape the volume's mount.
func resolveExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err == nil {
		return resolved, nil
	}
	if !os.IsNotExist(err) {
		return "", err
	}

	parent := filepath.Dir(path)
	if parent == path {
		return path, nil
	}

	resolvedParent, err := resolveExisting(parent)
	if err != nil {
		return "", err
	}
	return filepath.Join(resolvedParent, filepath.Base(path)), nil
}
