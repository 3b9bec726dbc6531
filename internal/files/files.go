// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package files places data pushed by remote callers (models, launch
// descriptions, configs) onto the local filesystem for workers to read.
package files

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/pipemgr/internal/fsutil"
	"github.com/ManuGH/pipemgr/internal/log"
	"github.com/ManuGH/pipemgr/internal/pipeline/model"
	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"
)

// DefaultMode applies when the caller passes a zero mode.
const DefaultMode fs.FileMode = 0o644

var (
	ErrInvalidDstPath = errors.New("invalid destination path")
	ErrFileExists     = errors.New("file already exists")
	ErrInvalidFlag    = errors.New("invalid load flag")
)

// Loader writes files below an optional root directory.
type Loader struct {
	root   string
	logger zerolog.Logger
}

// NewLoader restricts destinations to root. An empty root allows any
// absolute path.
func NewLoader(root string) *Loader {
	if root != "" {
		root = filepath.Clean(root)
	}
	return &Loader{root: root, logger: log.WithComponent("files")}
}

// Root returns the configured root, or "" when unrestricted.
func (l *Loader) Root() string { return l.root }

// Load writes data to dst. CREATE refuses to replace an existing file,
// OVERWRITE replaces it atomically and APPEND extends it (creating it when
// missing).
func (l *Loader) Load(data []byte, dst string, mode fs.FileMode, flag model.FileFlag) error {
	path, err := l.resolve(dst)
	if err != nil {
		return err
	}
	if mode == 0 {
		mode = DefaultMode
	}
	mode &= fs.ModePerm

	fi, statErr := os.Stat(path)
	exists := statErr == nil
	if exists && fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidDstPath, path)
	}
	if dir, err := os.Stat(filepath.Dir(path)); err != nil || !dir.IsDir() {
		return fmt.Errorf("%w: parent of %s is not a directory", ErrInvalidDstPath, path)
	}

	switch flag {
	case model.FileCreate:
		if exists {
			return fmt.Errorf("%w: %s", ErrFileExists, path)
		}
		err = l.replace(path, data, mode)
	case model.FileOverwrite:
		err = l.replace(path, data, mode)
	case model.FileAppend:
		err = appendFile(path, data, mode)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFlag, flag)
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}

	l.logger.Info().
		Str(log.FieldEvent, "files.loaded").
		Str(log.FieldPath, path).
		Str("flag", string(flag)).
		Int("bytes", len(data)).
		Msg("file loaded")
	return nil
}

// Unload removes a previously loaded file.
func (l *Loader) Unload(dst string) error {
	path, err := l.resolve(dst)
	if err != nil {
		return err
	}
	fi, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s does not exist", ErrInvalidDstPath, path)
		}
		return err
	}
	if fi.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalidDstPath, path)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("unload %s: %w", path, err)
	}
	l.logger.Info().Str(log.FieldEvent, "files.unloaded").Str(log.FieldPath, path).Msg("file removed")
	return nil
}

// StatusOf maps a Load or Unload error to the manager status.
func StatusOf(err error) model.Status {
	switch {
	case err == nil:
		return model.StatusSuccess
	case errors.Is(err, ErrInvalidDstPath):
		return model.StatusInvalidDstPath
	case errors.Is(err, ErrFileExists):
		return model.StatusFileAlreadyExist
	case errors.Is(err, ErrInvalidFlag):
		return model.StatusInvalidParameter
	default:
		return model.StatusError
	}
}

func (l *Loader) resolve(dst string) (string, error) {
	if dst == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDstPath)
	}
	if l.root == "" {
		if !filepath.IsAbs(dst) {
			return "", fmt.Errorf("%w: %s is not absolute", ErrInvalidDstPath, dst)
		}
		return filepath.Clean(dst), nil
	}

	path := dst
	if !filepath.IsAbs(path) {
		path = filepath.Join(l.root, path)
	}
	path = filepath.Clean(path)
	rel, err := filepath.Rel(l.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes %s", ErrInvalidDstPath, dst, l.root)
	}
	// Symlinks below root must not lead outside it either.
	if _, err := fsutil.Confine(l.root, path); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidDstPath, err)
	}
	return path, nil
}

// replace writes through a pending file: fsync, then atomic rename.
func (l *Loader) replace(path string, data []byte, mode fs.FileMode) error {
	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(mode))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		if err := pendingFile.Cleanup(); err != nil {
			l.logger.Debug().Err(err).Str(log.FieldPath, path).Msg("cleanup pending file")
		}
	}()

	if _, err := pendingFile.Write(data); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace: %w", err)
	}
	return nil
}

func appendFile(path string, data []byte, mode fs.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, mode)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
