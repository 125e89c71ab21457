// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package artifacts owns the on-disk artifact tree: atomic file writes,
// per-attempt staging directories and promotion of staged payloads into
// their final unit directory.
package artifacts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cardinalhq/floodlake/internal/workunit"
)

const (
	StagingDirName = ".staging"
	CacheDirName   = ".cache"
	LockDirName    = ".locks"
)

// ErrEmptyArtifact is returned when a staged payload file has no content.
var ErrEmptyArtifact = errors.New("empty artifact")

// Tree maps work units to directories under one artifact root.
type Tree struct {
	root string
}

func NewTree(root string) Tree {
	return Tree{root: filepath.Clean(root)}
}

func (t Tree) Root() string { return t.root }

// UnitDir is <root>/<source>/<YYYY>/<MM>.
func (t Tree) UnitDir(u workunit.Unit) string {
	return filepath.Join(t.root, filepath.FromSlash(u.Key()))
}

// CacheDir is a per-source scratch area for payloads shared by many months.
func (t Tree) CacheDir(source string) string {
	return filepath.Join(t.root, CacheDirName, source)
}

// LockPath is the per-unit lock file, kept out of the unit directory so
// consumers of the tree never see it.
func (t Tree) LockPath(u workunit.Unit) string {
	return filepath.Join(t.root, LockDirName, filepath.FromSlash(u.Key())+".lock")
}

// Ref returns the root-relative, slash separated reference for a file.
func (t Tree) Ref(absPath string) (string, error) {
	rel, err := filepath.Rel(t.root, absPath)
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("%s is outside artifact root %s", absPath, t.root)
	}
	return filepath.ToSlash(rel), nil
}

// Resolve turns a reference back into an absolute path.
func (t Tree) Resolve(ref string) string {
	return filepath.Join(t.root, filepath.FromSlash(ref))
}

// Staging is a private directory for one attempt at one unit. Nothing in it
// is visible under the unit directory until Promote.
type Staging struct {
	tree Tree
	unit workunit.Unit
	dir  string
}

// NewStaging creates an empty staging directory for unit, named by token so
// concurrent attempts never share one. Staging lives on the same filesystem
// as the artifact tree so promotion is a rename.
func (t Tree) NewStaging(u workunit.Unit, token string) (*Staging, error) {
	dir := filepath.Join(t.root, StagingDirName, filepath.FromSlash(u.Key()), token)
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear staging %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create staging %s: %w", dir, err)
	}
	return &Staging{tree: t, unit: u, dir: dir}, nil
}

// ClearStaging removes every staging directory of a unit, including ones
// left behind by interrupted runs.
func (t Tree) ClearStaging(u workunit.Unit) error {
	dir := filepath.Join(t.root, StagingDirName, filepath.FromSlash(u.Key()))
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("clear staging %s: %w", dir, err)
	}
	return nil
}

func (s *Staging) Dir() string { return s.dir }

// Path returns the staging path for a payload file name.
func (s *Staging) Path(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(name))
}

// Discard removes the staging directory.
func (s *Staging) Discard() error {
	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("discard staging %s: %w", s.dir, err)
	}
	return nil
}

// Check verifies that every named file exists in staging and is non-empty.
func (s *Staging) Check(files []string) error {
	if len(files) == 0 {
		return fmt.Errorf("%s: no payload files", s.unit.Key())
	}
	seen := make(map[string]struct{}, len(files))
	for _, name := range files {
		if err := validName(name); err != nil {
			return err
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("payload file %q listed twice", name)
		}
		seen[name] = struct{}{}
		fi, err := os.Stat(s.Path(name))
		if err != nil {
			return fmt.Errorf("stat staged %s: %w", name, err)
		}
		if !fi.Mode().IsRegular() {
			return fmt.Errorf("staged %s is not a regular file", name)
		}
		if fi.Size() == 0 {
			return fmt.Errorf("staged %s: %w", name, ErrEmptyArtifact)
		}
	}
	return nil
}

// Promote renames each staged file into the unit directory and returns the
// root-relative references in the order given. Each rename is atomic, so a
// file at its final path is always complete; the caller must not record
// success until Promote returns without error.
func (s *Staging) Promote(files []string) ([]string, error) {
	if err := s.Check(files); err != nil {
		return nil, err
	}
	final := s.tree.UnitDir(s.unit)
	refs := make([]string, 0, len(files))
	for _, name := range files {
		dst := filepath.Join(final, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, fmt.Errorf("create parent for %s: %w", dst, err)
		}
		if err := os.Rename(s.Path(name), dst); err != nil {
			return nil, fmt.Errorf("promote %s: %w", name, err)
		}
		ref, err := s.tree.Ref(dst)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	syncDir(final)
	return refs, nil
}

// RefsSize is the total size in bytes of the referenced files that exist.
func (t Tree) RefsSize(refs []string) int64 {
	var total int64
	for _, ref := range refs {
		if fi, err := os.Stat(t.Resolve(ref)); err == nil {
			total += fi.Size()
		}
	}
	return total
}

// CheckRefs reports the first reference that is missing or empty on disk.
func (t Tree) CheckRefs(refs []string) error {
	for _, ref := range refs {
		fi, err := os.Stat(t.Resolve(ref))
		if err != nil {
			return fmt.Errorf("artifact %s: %w", ref, err)
		}
		if fi.Size() == 0 {
			return fmt.Errorf("artifact %s: %w", ref, ErrEmptyArtifact)
		}
	}
	return nil
}

func validName(name string) error {
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(name)))
	switch {
	case name == "", clean == ".", strings.HasPrefix(clean, "../"), clean == "..", filepath.IsAbs(name):
		return fmt.Errorf("invalid payload file name %q", name)
	case clean == "manifest.json":
		return fmt.Errorf("payload file may not be named %q", name)
	case strings.HasPrefix(filepath.Base(clean), "."):
		return fmt.Errorf("payload file %q may not be hidden", name)
	}
	return nil
}
