// Package digest computes content digests and normalizes the relative paths
// used as the primary key across the local, remote, and last-sync indices.
// The hash algorithm is a project-wide choice (MD5 or SHA-256); the same
// algorithm must be used to build all three indices in a sync pass, so
// callers thread an Algorithm value through the indexer and remote client
// rather than hardcoding a hash package.
package digest

import (
	"crypto/md5"  //nolint:gosec // content-addressing digest, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"path"
	"strings"
)

// Algorithm identifies which hash function backs an Asset's digest.
type Algorithm string

// Supported algorithms.
const (
	MD5    Algorithm = "md5"
	SHA256 Algorithm = "sha256"
)

// New returns a fresh hash.Hash for the algorithm, or an error if the
// algorithm is not one of the supported values.
func (a Algorithm) New() (hash.Hash, error) {
	switch a {
	case MD5:
		return md5.New(), nil //nolint:gosec // see package doc
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("digest: unknown algorithm %q", a)
	}
}

// Valid reports whether a is a recognized algorithm.
func (a Algorithm) Valid() bool {
	return a == MD5 || a == SHA256
}

// OfReader computes the hex digest of everything read from r using the
// given algorithm, without loading the entire content into memory.
func OfReader(alg Algorithm, r io.Reader) (string, error) {
	h, err := alg.New()
	if err != nil {
		return "", err
	}

	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("digest: hashing content: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// JoinRel joins a parent relative path and a child name into a forward-slash
// relative path with no leading or trailing slash, the canonical form of
// Asset.path.
func JoinRel(parent, name string) string {
	if parent == "" {
		return name
	}

	return parent + "/" + name
}

// CleanRel normalizes p into the canonical Asset path form: forward slashes,
// no leading or trailing slash, "." collapsed to "".
func CleanRel(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.Trim(p, "/")
	p = path.Clean(p)

	if p == "." {
		return ""
	}

	return p
}

// SplitStemExt splits a relative path into a (stem, ext) pair for building
// conflict/resurrection filenames. Dotfiles whose name starts
// with "." and contains no other dot (e.g. ".bashrc") are treated as having
// no extension, so the suffix is appended after the full name rather than
// before the leading dot.
func SplitStemExt(relPath string) (stem, ext string) {
	dir, base := path.Split(relPath)

	if strings.HasPrefix(base, ".") && strings.Count(base, ".") == 1 {
		return dir + base, ""
	}

	ext = path.Ext(base)
	stem = dir + strings.TrimSuffix(base, ext)

	return stem, ext
}
