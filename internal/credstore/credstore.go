// Package credstore persists the reusable authentication record that makes
// silent token acquisition possible across process restarts. It is a leaf
// package: one JSON file per record, written atomically so a concurrent
// reader (e.g. the CLI login tool racing a long-running server) never sees
// a half-written file.
package credstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts record files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the record directory.
const DirPerms = 0o700

// Record is the on-disk authentication record. It identifies a previously
// consented user/tenant/client tuple and carries the refresh-capable OAuth
// token that lets the lifecycle manager acquire a new bearer token without
// prompting, as long as the embedded refresh token is still honored.
type Record struct {
	Authority     string        `json:"authority"`
	HomeAccountID string        `json:"homeAccountId"`
	ClientID      string        `json:"clientId"`
	Username      string        `json:"username"`
	Token         *oauth2.Token `json:"token"`
}

// Load reads a record from disk. Returns (nil, nil) if no record file
// exists — absence is an ordinary state, not an error.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("credstore: reading %s: %w", path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("credstore: decoding %s: %w", path, err)
	}

	if rec.Token == nil {
		return nil, fmt.Errorf("credstore: %s missing token field (re-login required)", path)
	}

	return &rec, nil
}

// Save writes a record to disk atomically (write-to-temp + rename) with
// 0600 permissions. Never logs token values.
func Save(path string, rec *Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("credstore: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("credstore: creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".record-*.tmp")
	if err != nil {
		return fmt.Errorf("credstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	// Clean up temp file on any error path.
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: writing: %w", err)
	}

	// Flush to stable storage before rename so a power loss between close and
	// rename cannot leave an empty or partial record file at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("credstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("credstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("credstore: renaming: %w", err)
	}

	success = true

	return nil
}

// Clear removes the record file. Returns nil if the file does not exist —
// clearing an absent record is a no-op, not a failure.
func Clear(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("credstore: removing %s: %w", path, err)
	}

	return nil
}
