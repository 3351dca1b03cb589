// Copyright 2026 The Sitewright Authors
// SPDX-License-Identifier: Apache-2.0

package buildstore

import (
	"bytes"
	"crypto/rand"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testStore(t *testing.T, maxBytes int64) *Store {
	t.Helper()
	store, err := Open(Config{
		Root:             t.TempDir(),
		MaxArtifactBytes: maxBytes,
		Logger:           slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	store := testStore(t, 0)
	data := bytes.Repeat([]byte("<html><body>hello</body></html>\n"), 100)

	id, err := store.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !ValidID(id) {
		t.Fatalf("malformed identity %q", id)
	}
	if id != HashBytes(data) {
		t.Error("identity is not the content hash")
	}

	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("round trip corrupted data")
	}
}

func TestPutIsIdempotent(t *testing.T) {
	store := testStore(t, 0)
	data := []byte("same bytes every time")

	first, err := store.Put(data)
	if err != nil {
		t.Fatalf("first Put: %v", err)
	}
	second, err := store.Put(data)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if first != second {
		t.Errorf("identities differ: %s vs %s", first, second)
	}
}

func TestPutRejectsOversized(t *testing.T) {
	store := testStore(t, 64)
	_, err := store.Put(make([]byte, 65))
	if !errors.Is(err, ErrArtifactTooLarge) {
		t.Errorf("Put = %v, want ErrArtifactTooLarge", err)
	}
}

func TestGetMissing(t *testing.T) {
	store := testStore(t, 0)
	missing := HashBytes([]byte("never stored"))
	if _, err := store.Get(missing); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
	if _, err := store.Get("not-a-hash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get malformed = %v, want ErrNotFound", err)
	}
}

func TestGetDetectsCorruption(t *testing.T) {
	store := testStore(t, 0)
	data := bytes.Repeat([]byte("stable content "), 50)
	id, err := store.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Flip a payload byte on disk.
	path := filepath.Join(store.root, "objects", id[:2], id)
	object, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	object[len(object)-1] ^= 0xff
	if err := os.WriteFile(path, object, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Get(id); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Get = %v, want ErrChecksumMismatch", err)
	}
}

func TestIncompressibleFallsBackToNone(t *testing.T) {
	store := testStore(t, 0)
	data := make([]byte, 8192)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}

	id, err := store.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	object, err := os.ReadFile(filepath.Join(store.root, "objects", id[:2], id))
	if err != nil {
		t.Fatal(err)
	}
	if CompressionTag(object[0]) != CompressionNone {
		t.Errorf("random data stored with tag %s", CompressionTag(object[0]))
	}

	got, err := store.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("round trip corrupted data")
	}
}

func TestTextGetsZstd(t *testing.T) {
	store := testStore(t, 0)
	data := bytes.Repeat([]byte(`{"component":"nav","props":{"title":"Home"}}`+"\n"), 200)

	id, err := store.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	object, err := os.ReadFile(filepath.Join(store.root, "objects", id[:2], id))
	if err != nil {
		t.Fatal(err)
	}
	if CompressionTag(object[0]) != CompressionZstd {
		t.Errorf("text stored with tag %s, want zstd", CompressionTag(object[0]))
	}
	if len(object) >= len(data) {
		t.Error("repetitive text did not shrink")
	}
}

func TestHasDoesNotVerify(t *testing.T) {
	store := testStore(t, 0)
	id, err := store.Put([]byte("present"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !store.Has(id) {
		t.Error("Has = false for stored artifact")
	}
	if store.Has(HashBytes([]byte("absent"))) {
		t.Error("Has = true for missing artifact")
	}
	if store.Has("garbage") {
		t.Error("Has = true for malformed identity")
	}
}

func TestStatVerifiesAndReports(t *testing.T) {
	store := testStore(t, 0)
	data := bytes.Repeat([]byte("site content "), 100)
	id, err := store.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	info, err := store.Stat(id)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.ID != id {
		t.Errorf("ID = %s", info.ID)
	}
	if info.SizeBytes != int64(len(data)) {
		t.Errorf("SizeBytes = %d, want %d", info.SizeBytes, len(data))
	}
	if fileInfo, err := os.Stat(info.Location); err != nil || fileInfo.Size() != info.StoredBytes {
		t.Errorf("Location = %s: %v", info.Location, err)
	}

	if _, err := store.Stat(HashBytes([]byte("never stored"))); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stat missing = %v, want ErrNotFound", err)
	}
}

func TestStatDetectsCorruption(t *testing.T) {
	store := testStore(t, 0)
	data := bytes.Repeat([]byte("stable content "), 50)
	id, err := store.Put(data)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	path := filepath.Join(store.root, "objects", id[:2], id)
	object, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	object[len(object)-1] ^= 0xff
	if err := os.WriteFile(path, object, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := store.Stat(id); !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("Stat = %v, want ErrChecksumMismatch", err)
	}
}
