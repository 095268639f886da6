// Copyright (c) 2026 RLX Health. All rights reserved.
// Author: platform@rlx.health

// Device-local persistence for the session snapshot.
//
// The snapshot is a single JSON file written wholesale. Writes go through a
// temp file followed by a rename, so a crash mid-write never leaves a
// half-written session on disk.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// sessionFileMode keeps the snapshot readable by the owning user only.
const sessionFileMode fs.FileMode = 0o600

// Store is the persistence contract for the session snapshot.
type Store interface {
	// Load returns the persisted snapshot, or (nil, nil) when none exists.
	Load() (*Session, error)

	// Save atomically replaces the whole snapshot.
	Save(session *Session) error

	// Clear removes the snapshot. Clearing an absent snapshot succeeds.
	Clear() error
}

// FileStore is the JSON-file implementation of [Store].
type FileStore struct {
	path string
}

// NewFileStore creates a [FileStore] persisting to the given path. Parent
// directories are created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads and decodes the snapshot file.
func (store *FileStore) Load() (*Session, error) {
	raw, err := os.ReadFile(store.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("session_store_read_failed: %w", err)
	}

	session := &Session{}
	if err := json.Unmarshal(raw, session); err != nil {
		return nil, fmt.Errorf("session_store_decode_failed: %w", err)
	}

	return session, nil
}

// Save encodes the snapshot and atomically replaces the file.
func (store *FileStore) Save(session *Session) error {
	encoded, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return fmt.Errorf("session_store_encode_failed: %w", err)
	}

	directory := filepath.Dir(store.path)
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("session_store_mkdir_failed: %w", err)
	}

	temp, err := os.CreateTemp(directory, ".session-*")
	if err != nil {
		return fmt.Errorf("session_store_temp_failed: %w", err)
	}
	tempPath := temp.Name()

	if _, err := temp.Write(encoded); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return fmt.Errorf("session_store_write_failed: %w", err)
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("session_store_close_failed: %w", err)
	}
	if err := os.Chmod(tempPath, sessionFileMode); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("session_store_chmod_failed: %w", err)
	}

	if err := os.Rename(tempPath, store.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("session_store_rename_failed: %w", err)
	}

	return nil
}

// Clear removes the snapshot file.
func (store *FileStore) Clear() error {
	if err := os.Remove(store.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session_store_clear_failed: %w", err)
	}
	return nil
}
