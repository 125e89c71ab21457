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

package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/cardinalhq/floodlake/internal/artifacts"
	"github.com/cardinalhq/floodlake/internal/workunit"
)

// Store is the durable per-unit record of ingestion state.
type Store interface {
	// Read returns the manifest of u; ok is false when none exists yet.
	Read(ctx context.Context, u workunit.Unit) (m Manifest, ok bool, err error)
	// Write replaces the manifest of u atomically after checking the
	// transition against the stored record.
	Write(ctx context.Context, u workunit.Unit, m Manifest) error
	// ListAll returns every manifest of a source in chronological order.
	ListAll(ctx context.Context, source string) ([]Manifest, error)
	// Claim gives the caller exclusive ownership of u until released.
	Claim(ctx context.Context, u workunit.Unit, runID string) (Claim, error)
}

// FileStore keeps manifests at <root>/<source>/<YYYY>/<MM>/manifest.json.
type FileStore struct {
	tree       artifacts.Tree
	staleAfter time.Duration
	now        func() time.Time
	hostname   string
}

var _ Store = (*FileStore)(nil)

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithClaimStaleAfter sets the age after which a claim held by another host
// is considered abandoned. Without this option, the default is 6 hours.
func WithClaimStaleAfter(d time.Duration) FileStoreOption {
	return func(s *FileStore) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) FileStoreOption {
	return func(s *FileStore) {
		s.now = now
	}
}

func NewFileStore(tree artifacts.Tree, opts ...FileStoreOption) *FileStore {
	s := &FileStore{
		tree:       tree,
		staleAfter: 6 * time.Hour,
		now:        time.Now,
		hostname:   hostnameOrUnknown(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileStore) Tree() artifacts.Tree { return s.tree }

func (s *FileStore) path(u workunit.Unit) string {
	return filepath.Join(s.tree.UnitDir(u), FileName)
}

func (s *FileStore) Read(ctx context.Context, u workunit.Unit) (Manifest, bool, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, false, err
	}
	return readFile(s.path(u))
}

func readFile(path string) (Manifest, bool, error) {
	var m Manifest
	if err := artifacts.ReadJSON(path, &m); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, false, nil
		}
		return Manifest{}, false, err
	}
	if m.ArtifactRefs == nil {
		m.ArtifactRefs = []string{}
	}
	if m.PayloadSummary == nil {
		m.PayloadSummary = map[string]any{}
	}
	return m, true, nil
}

func (s *FileStore) Write(ctx context.Context, u workunit.Unit, m Manifest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("manifest %s: %w", u.Key(), err)
	}
	prev, ok, err := s.Read(ctx, u)
	if err != nil {
		// An unreadable record is replaced rather than wedging the unit.
		ok = false
	}
	var prevPtr *Manifest
	if ok {
		prevPtr = &prev
	}
	if err := checkSuccessor(prevPtr, m); err != nil {
		return fmt.Errorf("manifest %s: %w", u.Key(), err)
	}
	m.UpdatedAt = s.now().UTC()
	if err := artifacts.WriteJSON(s.path(u), m); err != nil {
		return fmt.Errorf("write manifest %s: %w", u.Key(), err)
	}
	return nil
}

// Reset puts a unit back to pending regardless of its current status so the
// next run fetches it again. It is an operator action outside the normal
// state machine; attempts and failure history are preserved. A unit claimed
// by a running ingest is refused with ErrClaimed.
func (s *FileStore) Reset(ctx context.Context, u workunit.Unit, runID string) (m Manifest, err error) {
	claim, err := s.Claim(ctx, u, runID)
	if err != nil {
		return Manifest{}, err
	}
	defer func() {
		if rerr := claim.Release(); rerr != nil && err == nil {
			err = rerr
		}
	}()

	m, ok, err := s.Read(ctx, u)
	if err != nil {
		return Manifest{}, err
	}
	if !ok {
		m = New(u)
	}
	m = m.clone()
	m.Status = StatusPending
	m.LastError = nil
	m.ArtifactRefs = []string{}
	m.CompletedAt = nil
	m.UpdatedAt = s.now().UTC()
	if err := artifacts.WriteJSON(s.path(u), m); err != nil {
		return Manifest{}, fmt.Errorf("write manifest %s: %w", u.Key(), err)
	}
	return m, nil
}

func (s *FileStore) ListAll(ctx context.Context, source string) ([]Manifest, error) {
	srcDir := filepath.Join(s.tree.Root(), source)
	years, err := os.ReadDir(srcDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Manifest{}, nil
		}
		return nil, fmt.Errorf("read source directory %s: %w", srcDir, err)
	}

	type entry struct {
		ym workunit.YearMonth
		m  Manifest
	}
	var (
		found []entry
		errs  *multierror.Error
	)
	for _, y := range years {
		year, ok := parseDirInt(y, 4)
		if !ok {
			continue
		}
		months, err := os.ReadDir(filepath.Join(srcDir, y.Name()))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("read year directory %s: %w", y.Name(), err))
			continue
		}
		for _, mo := range months {
			month, ok := parseDirInt(mo, 2)
			if !ok || month < 1 || month > 12 {
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			m, present, err := readFile(filepath.Join(srcDir, y.Name(), mo.Name(), FileName))
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			if !present {
				continue
			}
			found = append(found, entry{ym: workunit.YearMonth{Year: year, Month: time.Month(month)}, m: m})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].ym.Before(found[j].ym) })
	out := make([]Manifest, 0, len(found))
	for _, e := range found {
		// Directory position is authoritative for year and month.
		e.m.Year = e.ym.Year
		e.m.Month = int(e.ym.Month)
		out = append(out, e.m)
	}
	return out, errs.ErrorOrNil()
}

func parseDirInt(e os.DirEntry, width int) (int, bool) {
	if !e.IsDir() || len(e.Name()) != width {
		return 0, false
	}
	n, err := strconv.Atoi(e.Name())
	if err != nil {
		return 0, false
	}
	return n, true
}
