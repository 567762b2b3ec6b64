// Package tokenfile reads and writes the user's saved OSF bearer tokens.
// The store is a single JSON file mapping account-id to token, so a session
// can reuse a previously-acquired token without ever storing a password.
// This is a leaf package with no dependency on remote/ or config/, so both
// can import it without a cycle.
package tokenfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FilePerms restricts the token file to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the token file's parent directory.
const DirPerms = 0o700

// File is the on-disk format: account-id -> bearer token.
type File struct {
	Tokens map[string]string `json:"tokens"`
}

// Load reads the token store at path. A missing file is not an error; it
// returns an empty map.
func Load(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("tokenfile: reading %s: %w", path, err)
	}

	var tf File
	if err := json.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("tokenfile: decoding %s: %w", path, err)
	}

	if tf.Tokens == nil {
		tf.Tokens = map[string]string{}
	}

	return tf.Tokens, nil
}

// Get returns the bearer token saved for accountID, or "" if none is saved.
func Get(path, accountID string) (string, error) {
	tokens, err := Load(path)
	if err != nil {
		return "", err
	}

	return tokens[accountID], nil
}

// Put saves (or overwrites) the bearer token for accountID and persists the
// store atomically (write to temp file, rename), so a crash mid-write cannot
// leave a truncated token file.
func Put(path, accountID, token string) error {
	tokens, err := Load(path)
	if err != nil {
		return err
	}

	tokens[accountID] = token

	return save(path, tokens)
}

// Delete removes any saved token for accountID. It is not an error if none
// was saved.
func Delete(path, accountID string) error {
	tokens, err := Load(path)
	if err != nil {
		return err
	}

	if _, ok := tokens[accountID]; !ok {
		return nil
	}

	delete(tokens, accountID)

	return save(path, tokens)
}

// save writes the token map to path atomically with 0600 permissions.
func save(path string, tokens map[string]string) error {
	data, err := json.MarshalIndent(File{Tokens: tokens}, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirPerms); err != nil {
		return fmt.Errorf("tokenfile: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tokenfile-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: writing: %w", err)
	}

	// Flush to stable storage before rename so a crash between close and
	// rename cannot leave an empty or partial token file at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenfile: renaming: %w", err)
	}

	success = true

	return nil
}
