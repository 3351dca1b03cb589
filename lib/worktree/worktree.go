// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package worktree

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/blake3"
)

// Directory entries that never belong in a snapshot: the sandbox's
// scratch HOME and package-manager caches.
var skippedNames = map[string]bool{
	".home":        true,
	"node_modules": true,
	".cache":       true,
}

// Snapshot archives the tree rooted at root. Only regular files and
// directories are captured; symlinks are dropped — the sandbox
// profile forbids following links out of the project anyway.
func Snapshot(root string) ([]byte, error) {
	var buffer bytes.Buffer
	writer := tar.NewWriter(&buffer)

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if relative == "." {
			return nil
		}
		if skippedNames[entry.Name()] {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return err
		}

		switch {
		case entry.IsDir():
			header := &tar.Header{
				Typeflag: tar.TypeDir,
				Name:     filepath.ToSlash(relative) + "/",
				Mode:     0o755,
				ModTime:  time.Unix(0, 0),
			}
			return writer.WriteHeader(header)

		case info.Mode().IsRegular():
			header := &tar.Header{
				Typeflag: tar.TypeReg,
				Name:     filepath.ToSlash(relative),
				Mode:     int64(info.Mode().Perm()),
				Size:     info.Size(),
				ModTime:  time.Unix(0, 0),
			}
			if err := writer.WriteHeader(header); err != nil {
				return err
			}
			file, err := os.Open(path)
			if err != nil {
				return err
			}
			_, err = io.Copy(writer, file)
			file.Close()
			return err

		default:
			// Symlinks, sockets, devices: not part of a site tree.
			return nil
		}
	})
	if err != nil {
		return nil, fmt.Errorf("snapshotting %s: %w", root, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing snapshot: %w", err)
	}
	return buffer.Bytes(), nil
}

// RestoreStats reports what Restore actually touched.
type RestoreStats struct {
	FilesWritten int
	FilesSkipped int
	FilesRemoved int
}

// Restore makes the tree at root match the snapshot: unchanged files
// (by BLAKE3) are left alone, changed and missing files are written
// through a temp-and-rename, and files not present in the snapshot
// are removed. ctx cancels between entries.
func Restore(ctx context.Context, root string, snapshot []byte) (RestoreStats, error) {
	var stats RestoreStats

	wanted := map[string]bool{}
	reader := tar.NewReader(bytes.NewReader(snapshot))
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		header, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("reading snapshot: %w", err)
		}

		relative, err := safeRelative(header.Name)
		if err != nil {
			return stats, err
		}
		target := filepath.Join(root, relative)
		wanted[relative] = true

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return stats, fmt.Errorf("creating %s: %w", relative, err)
			}

		case tar.TypeReg:
			content, err := io.ReadAll(reader)
			if err != nil {
				return stats, fmt.Errorf("reading %s from snapshot: %w", relative, err)
			}
			same, err := fileMatches(target, content)
			if err != nil {
				return stats, err
			}
			if same {
				stats.FilesSkipped++
				continue
			}
			if err := writeFile(target, content, fs.FileMode(header.Mode).Perm()); err != nil {
				return stats, fmt.Errorf("writing %s: %w", relative, err)
			}
			stats.FilesWritten++

		default:
			return stats, fmt.Errorf("snapshot contains unsupported entry %s (type %d)", relative, header.Typeflag)
		}
	}

	removed, err := prune(ctx, root, wanted)
	stats.FilesRemoved = removed
	if err != nil {
		return stats, err
	}
	return stats, nil
}

// fileMatches reports whether the file at path exists with exactly
// the given content, compared by size then BLAKE3.
func fileMatches(path string, content []byte) (bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if !info.Mode().IsRegular() || info.Size() != int64(len(content)) {
		return false, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return false, err
	}
	onDisk := hasher.Sum(nil)
	inSnapshot := blake3.Sum256(content)
	return bytes.Equal(onDisk, inSnapshot[:]), nil
}

// prune removes paths under root that the snapshot does not contain.
// Directories are removed bottom-up after their contents.
func prune(ctx context.Context, root string, wanted map[string]bool) (int, error) {
	var files, dirs []string
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relative, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		if relative == "." {
			return nil
		}
		if skippedNames[entry.Name()] {
			if entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if wanted[relative] {
			return nil
		}
		if entry.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning for removed files: %w", err)
	}

	removed := 0
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("removing %s: %w", path, err)
		}
		removed++
	}
	// Deepest first so parents empty out before removal.
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Remove(dirs[i]); err != nil && !os.IsNotExist(err) {
			// A surviving child (e.g. a skipped cache dir) keeps the
			// directory; that is fine.
			continue
		}
	}
	return removed, nil
}

func writeFile(path string, content []byte, mode fs.FileMode) error {
	if mode == 0 {
		mode = 0o644
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	temp, err := os.CreateTemp(filepath.Dir(path), ".restore-*")
	if err != nil {
		return err
	}
	tempName := temp.Name()
	defer os.Remove(tempName)

	if _, err := temp.Write(content); err != nil {
		temp.Close()
		return err
	}
	if err := temp.Chmod(mode); err != nil {
		temp.Close()
		return err
	}
	if err := temp.Close(); err != nil {
		return err
	}
	return os.Rename(tempName, path)
}

// safeRelative validates a tar entry name against path traversal.
func safeRelative(name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(strings.TrimSuffix(name, "/")))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("snapshot entry %q escapes the working directory", name)
	}
	return cleaned, nil
}
