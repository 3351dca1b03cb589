// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package buildstore

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Errors returned by the store. Callers branch with errors.Is.
var (
	// ErrArtifactTooLarge means the artifact exceeds the configured
	// size limit.
	ErrArtifactTooLarge = errors.New("artifact too large")

	// ErrChecksumMismatch means stored bytes no longer hash to their
	// identity. The object is corrupt.
	ErrChecksumMismatch = errors.New("artifact checksum mismatch")

	// ErrNotFound means no object exists for the identity.
	ErrNotFound = errors.New("artifact not found")
)

// headerSize is the object file prefix: 1 tag byte + 8 size bytes.
const headerSize = 9

// Config holds the parameters for opening a Store.
type Config struct {
	// Root is the store directory. Created if missing. Required.
	Root string

	// MaxArtifactBytes caps the uncompressed size of a single
	// artifact. Zero means 256 MiB.
	MaxArtifactBytes int64

	// Logger for store operations. Nil means slog.Default.
	Logger *slog.Logger
}

// Store is a content-addressed object store. Safe for concurrent use:
// writes are idempotent and land atomically.
type Store struct {
	root     string
	maxBytes int64
	logger   *slog.Logger
}

// Open creates the store directory tree and returns a Store.
func Open(config Config) (*Store, error) {
	if config.Root == "" {
		return nil, fmt.Errorf("store root is required")
	}
	if config.MaxArtifactBytes == 0 {
		config.MaxArtifactBytes = 256 << 20
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Join(config.Root, "objects"), 0o755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}
	return &Store{
		root:     config.Root,
		maxBytes: config.MaxArtifactBytes,
		logger:   config.Logger,
	}, nil
}

// HashBytes returns the artifact identity for data: lowercase SHA-256
// hex.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidID reports whether id is a well-formed artifact identity.
func ValidID(id string) bool {
	if len(id) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}

// Put stores data and returns its identity. Storing the same bytes
// twice is a no-op returning the same identity; two artifacts collide
// on identity only if their bytes are identical, in which case the
// existing object already is the artifact.
func (s *Store) Put(data []byte) (string, error) {
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds limit %d", ErrArtifactTooLarge, len(data), s.maxBytes)
	}

	id := HashBytes(data)
	path := s.objectPath(id)
	if _, err := os.Stat(path); err == nil {
		return id, nil
	}

	tag := selectCompression(data)
	payload, err := compress(data, tag)
	if errors.Is(err, errIncompressible) {
		tag = CompressionNone
		payload = data
	} else if err != nil {
		return "", fmt.Errorf("compressing artifact: %w", err)
	}

	object := make([]byte, headerSize+len(payload))
	object[0] = byte(tag)
	binary.BigEndian.PutUint64(object[1:headerSize], uint64(len(data)))
	copy(object[headerSize:], payload)

	if err := s.writeAtomic(path, object); err != nil {
		return "", fmt.Errorf("writing artifact %s: %w", id[:12], err)
	}

	s.logger.Debug("artifact stored",
		"artifact_id", id[:12],
		"size", len(data),
		"stored_size", len(object),
		"compression", tag.String(),
	)
	return id, nil
}

// Get returns the artifact's uncompressed bytes, verified against its
// identity.
func (s *Store) Get(id string) ([]byte, error) {
	data, _, err := s.load(id)
	return data, err
}

// ArtifactInfo describes a stored, verified artifact.
type ArtifactInfo struct {
	// ID is the artifact identity.
	ID string

	// Location is the object's path under the store root.
	Location string

	// SizeBytes is the uncompressed artifact size.
	SizeBytes int64

	// StoredBytes is the on-disk object size, header included.
	StoredBytes int64

	// Compression is how the object payload is stored.
	Compression CompressionTag
}

// Stat resolves an identity to its storage location and sizes. It
// verifies the whole object: a Stat that succeeds guarantees Get
// would return the same bytes the identity names.
func (s *Store) Stat(id string) (*ArtifactInfo, error) {
	data, tag, err := s.load(id)
	if err != nil {
		return nil, err
	}
	path := s.objectPath(id)
	fileInfo, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifact %s: %w", id[:12], err)
	}
	return &ArtifactInfo{
		ID:          id,
		Location:    path,
		SizeBytes:   int64(len(data)),
		StoredBytes: fileInfo.Size(),
		Compression: tag,
	}, nil
}

// load reads, decompresses, and verifies one object.
func (s *Store) load(id string) ([]byte, CompressionTag, error) {
	if !ValidID(id) {
		return nil, CompressionNone, fmt.Errorf("%w: malformed identity %q", ErrNotFound, id)
	}
	object, err := os.ReadFile(s.objectPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, CompressionNone, fmt.Errorf("%w: %s", ErrNotFound, id[:12])
		}
		return nil, CompressionNone, fmt.Errorf("reading artifact %s: %w", id[:12], err)
	}
	if len(object) < headerSize {
		return nil, CompressionNone, fmt.Errorf("%w: %s: truncated object", ErrChecksumMismatch, id[:12])
	}

	tag := CompressionTag(object[0])
	size := binary.BigEndian.Uint64(object[1:headerSize])
	if int64(size) > s.maxBytes {
		return nil, tag, fmt.Errorf("%w: %s: implausible size header", ErrChecksumMismatch, id[:12])
	}

	data, err := decompress(object[headerSize:], tag, int(size))
	if err != nil {
		return nil, tag, fmt.Errorf("%w: %s: %v", ErrChecksumMismatch, id[:12], err)
	}
	if HashBytes(data) != id {
		return nil, tag, fmt.Errorf("%w: %s", ErrChecksumMismatch, id[:12])
	}
	return data, tag, nil
}

// Has reports whether an object exists for the identity. It does not
// verify integrity; Get does.
func (s *Store) Has(id string) bool {
	if !ValidID(id) {
		return false
	}
	_, err := os.Stat(s.objectPath(id))
	return err == nil
}

func (s *Store) objectPath(id string) string {
	return filepath.Join(s.root, "objects", id[:2], id)
}

// writeAtomic writes data through a temp file in the target's
// directory, fsyncs, renames over the final path, and fsyncs the
// directory so the rename survives a crash.
func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating object directory: %w", err)
	}

	temp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempName := temp.Name()
	defer os.Remove(tempName)

	if _, err := temp.Write(data); err != nil {
		temp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := temp.Sync(); err != nil {
		temp.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}

	dirFile, err := os.Open(dir)
	if err != nil {
		return nil
	}
	defer dirFile.Close()
	dirFile.Sync()
	return nil
}
