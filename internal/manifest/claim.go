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
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/cardinalhq/floodlake/internal/artifacts"
	"github.com/cardinalhq/floodlake/internal/workunit"
)

const (
	claimDirName   = ".claim"
	claimOwnerFile = "owner.json"
)

// processInstance tells this process apart from an earlier one that ran
// with the same pid on the same host, as happens when a container restarts.
var processInstance = uuid.NewString()

// ErrClaimed is returned when another live worker owns the unit.
var ErrClaimed = errors.New("work unit is claimed by another worker")

// ErrClaimLost is returned by Refresh when the claim was broken as stale and
// taken over.
var ErrClaimLost = errors.New("work unit claim was taken over")

// Claim is exclusive ownership of one work unit.
type Claim interface {
	Token() string
	// Refresh marks the claim as still in use so other hosts do not
	// break it as stale.
	Refresh(ctx context.Context) error
	Release() error
}

type claimOwner struct {
	Token     string    `json:"token"`
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	Instance  string    `json:"instance,omitempty"`
	Hostname  string    `json:"hostname"`
	CreatedAt time.Time `json:"created_at"`
	// RefreshedAt is the last heartbeat of a long fetch.
	RefreshedAt time.Time `json:"refreshed_at,omitzero"`
}

// lastSeen is when the owner last proved it was alive.
func (o claimOwner) lastSeen() time.Time {
	if o.RefreshedAt.After(o.CreatedAt) {
		return o.RefreshedAt
	}
	return o.CreatedAt
}

type dirClaim struct {
	dir      string
	lockPath string
	token    string
	now      func() time.Time
}

func (c *dirClaim) Token() string { return c.token }

func (c *dirClaim) Refresh(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock, err := lockUnit(c.lockPath)
	if err != nil {
		return err
	}
	defer unlock()
	ownerPath := filepath.Join(c.dir, claimOwnerFile)
	var owner claimOwner
	if err := artifacts.ReadJSON(ownerPath, &owner); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrClaimLost
		}
		return fmt.Errorf("read claim owner %s: %w", c.dir, err)
	}
	if owner.Token != c.token {
		return ErrClaimLost
	}
	owner.RefreshedAt = c.now().UTC()
	if err := artifacts.WriteJSON(ownerPath, owner); err != nil {
		return fmt.Errorf("refresh claim %s: %w", c.dir, err)
	}
	return nil
}

// Release removes the claim if it is still ours. A claim that was broken
// as stale and re-taken by someone else is left alone.
func (c *dirClaim) Release() error {
	if c == nil || c.dir == "" {
		return nil
	}
	unlock, err := lockUnit(c.lockPath)
	if err != nil {
		return err
	}
	defer unlock()
	ownerPath := filepath.Join(c.dir, claimOwnerFile)
	var owner claimOwner
	if err := artifacts.ReadJSON(ownerPath, &owner); err == nil && owner.Token != c.token {
		return nil
	}
	_ = os.Remove(ownerPath)
	if err := os.Remove(c.dir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release claim %s: %w", c.dir, err)
	}
	return nil
}

// Claim takes the unit with an atomic mkdir. Claims left behind by a dead
// process on this host, or older than the stale age, are broken once. The
// check and the break happen under the unit's lock file so two breakers
// cannot both take the unit.
func (s *FileStore) Claim(ctx context.Context, u workunit.Unit, runID string) (Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	unitDir := s.tree.UnitDir(u)
	if err := os.MkdirAll(unitDir, 0o755); err != nil {
		return nil, fmt.Errorf("create unit directory %s: %w", unitDir, err)
	}
	dir := filepath.Join(unitDir, claimDirName)

	lockPath := s.tree.LockPath(u)
	unlock, err := lockUnit(lockPath)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for tries := 0; tries < 2; tries++ {
		err := os.Mkdir(dir, 0o755)
		if err == nil {
			owner := claimOwner{
				Token:     uuid.NewString(),
				RunID:     runID,
				PID:       os.Getpid(),
				Instance:  processInstance,
				Hostname:  s.hostname,
				CreatedAt: s.now().UTC(),
			}
			if err := artifacts.WriteJSON(filepath.Join(dir, claimOwnerFile), owner); err != nil {
				_ = os.RemoveAll(dir)
				return nil, fmt.Errorf("write claim owner for %s: %w", u.Key(), err)
			}
			return &dirClaim{dir: dir, lockPath: lockPath, token: owner.Token, now: s.now}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("claim %s: %w", u.Key(), err)
		}

		var owner claimOwner
		readErr := artifacts.ReadJSON(filepath.Join(dir, claimOwnerFile), &owner)
		if !s.isStale(dir, owner, readErr) {
			if readErr == nil {
				return nil, fmt.Errorf("%w: %s (run=%s pid=%d host=%s since=%s)", ErrClaimed,
					u.Key(), owner.RunID, owner.PID, owner.Hostname, owner.CreatedAt.Format(time.RFC3339))
			}
			return nil, fmt.Errorf("%w: %s", ErrClaimed, u.Key())
		}
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("break stale claim %s: %w", u.Key(), err)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrClaimed, u.Key())
}

func (s *FileStore) isStale(dir string, owner claimOwner, readErr error) bool {
	now := s.now()
	if readErr != nil {
		// Owner file not written yet, or torn by a crash: judge by the
		// directory age so a claim being created right now is respected.
		fi, err := os.Stat(dir)
		if err != nil {
			return os.IsNotExist(err)
		}
		return now.Sub(fi.ModTime()) > s.staleAfter
	}
	if now.Sub(owner.lastSeen()) > s.staleAfter {
		return true
	}
	if owner.Hostname == s.hostname && owner.PID > 0 && !ownerAlive(owner) {
		return true
	}
	return false
}

// lockUnit takes an exclusive flock on the unit's lock file. The kernel
// drops it if the process dies.
func lockUnit(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open claim lock %s: %w", path, err)
	}
	fd := int(f.Fd())
	for {
		err = unix.Flock(fd, unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return func() {
		_ = unix.Flock(fd, unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

func ownerAlive(owner claimOwner) bool {
	if owner.PID == os.Getpid() {
		// Same pid under a different instance is a previous process
		// that the restarted one happens to share a pid with.
		return owner.Instance == "" || owner.Instance == processInstance
	}
	return processAlive(owner.PID)
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
