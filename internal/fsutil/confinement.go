// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fsutil holds filesystem helpers shared by the file loader.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrEscapesRoot reports a target that resolves outside its root.
	ErrEscapesRoot = errors.New("path escapes root")
	// ErrNotAbsolute rejects relative targets.
	ErrNotAbsolute = errors.New("path is not absolute")
	// ErrBackslash rejects targets carrying a backslash separator.
	ErrBackslash = errors.New("path contains backslash")
)

// Confine resolves target and root through any symlinks on disk and
// requires the result to stay inside root. Components that do not exist
// yet are carried over lexically. The resolved target is returned.
func Confine(root, target string) (string, error) {
	switch {
	case strings.ContainsRune(target, '\\'):
		return "", fmt.Errorf("%w: %s", ErrBackslash, target)
	case !filepath.IsAbs(target):
		return "", fmt.Errorf("%w: %s", ErrNotAbsolute, target)
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("root %s: %w", root, err)
	}
	realRoot, err := realpath(root)
	if err != nil {
		return "", err
	}
	realTarget, err := realpath(filepath.Clean(target))
	if err != nil {
		return "", err
	}

	prefix := realRoot
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	if realTarget != realRoot && !strings.HasPrefix(realTarget, prefix) {
		return "", fmt.Errorf("%w: %s", ErrEscapesRoot, realTarget)
	}
	return realTarget, nil
}

// realpath evaluates symlinks on the longest existing prefix of p and
// appends the missing tail unchanged.
func realpath(p string) (string, error) {
	existing, tail := p, ""
	for {
		_, err := os.Lstat(existing)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", existing, err)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		tail = filepath.Join(filepath.Base(existing), tail)
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", existing, err)
	}
	return filepath.Join(resolved, tail), nil
}
