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
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/floodlake/internal/artifacts"
	"github.com/cardinalhq/floodlake/internal/fetcherr"
	"github.com/cardinalhq/floodlake/internal/workunit"
)

func units(t *testing.T, source, start, end string) []workunit.Unit {
	t.Helper()
	w, err := workunit.ParseWindow(start, end)
	require.NoError(t, err)
	return workunit.Grid("bengaluru", []string{source}, w)
}

func newStore(t *testing.T, opts ...FileStoreOption) *FileStore {
	t.Helper()
	return NewFileStore(artifacts.NewTree(t.TempDir()), opts...)
}

func TestCanTransition(t *testing.T) {
	all := []Status{"", StatusPending, StatusInProgress, StatusSuccess, StatusFailed}
	allowed := map[Status][]Status{
		"":               {StatusPending, StatusInProgress},
		StatusPending:    {StatusPending, StatusInProgress, StatusFailed},
		StatusInProgress: {StatusInProgress, StatusSuccess, StatusFailed},
		StatusFailed:     {StatusInProgress, StatusFailed},
		StatusSuccess:    {StatusSuccess},
	}
	for _, from := range all {
		for _, to := range all[1:] {
			want := false
			for _, a := range allowed[from] {
				if a == to {
					want = true
				}
			}
			assert.Equal(t, want, CanTransition(from, to), "%q -> %q", from, to)
		}
	}
}

func TestManifestLifecycle(t *testing.T) {
	u := units(t, "rainfall", "2020-01", "2020-01")[0]
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	m := New(u)
	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, "2020-01-01", m.WindowStart)
	assert.Equal(t, "2020-01-31", m.WindowEnd)
	require.NoError(t, m.Validate())

	m = m.Begin("run1", now)
	assert.Equal(t, 1, m.Attempts)
	assert.Equal(t, StatusInProgress, m.Status)
	assert.Nil(t, m.CompletedAt)

	failed := m.Fail(fetcherr.KindTransientNetwork, "reset", now)
	require.NoError(t, failed.Validate())
	require.NotNil(t, failed.LastError)
	assert.Equal(t, fetcherr.KindTransientNetwork, failed.LastError.Kind)
	assert.Len(t, failed.ErrorHistory, 1)
	assert.Equal(t, "run1", failed.ErrorHistory[0].RunID)

	ok := failed.Begin("run2", now).Succeed([]string{"rainfall/2020/01/a.json"}, map[string]any{"bytes": 10}, now)
	require.NoError(t, ok.Validate())
	assert.Nil(t, ok.LastError)
	assert.Equal(t, 2, ok.Attempts)
	assert.True(t, ok.Done())
	assert.Len(t, ok.ErrorHistory, 1, "history survives success")
}

func TestFailureHistoryIsBounded(t *testing.T) {
	u := units(t, "radar", "2020-01", "2020-01")[0]
	m := New(u)
	for i := 0; i < 25; i++ {
		m = m.Begin("r", time.Now()).Fail(fetcherr.KindRateLimited, "429", time.Now())
	}
	assert.Len(t, m.ErrorHistory, maxHistory)
	assert.Equal(t, 25, m.Attempts)
}

func TestValidateRejectsInconsistentRecords(t *testing.T) {
	u := units(t, "radar", "2020-01", "2020-01")[0]
	m := New(u)

	bad := m
	bad.Status = "done"
	assert.Error(t, bad.Validate())

	bad = m
	bad.Status = StatusSuccess
	assert.Error(t, bad.Validate(), "success without refs")

	bad = m
	bad.Status = StatusFailed
	assert.Error(t, bad.Validate(), "failed without last_error")

	bad = m
	bad.ArtifactRefs = []string{"x"}
	assert.Error(t, bad.Validate(), "pending with refs")
}

func TestFileStoreReadWrite(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	u := units(t, "rainfall", "2020-02", "2020-02")[0]

	_, ok, err := s.Read(ctx, u)
	require.NoError(t, err)
	assert.False(t, ok)

	m := New(u)
	require.NoError(t, s.Write(ctx, u, m))
	m = m.Begin("run", time.Now())
	require.NoError(t, s.Write(ctx, u, m))

	got, ok, err := s.Read(ctx, u)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusInProgress, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.False(t, got.UpdatedAt.IsZero())

	raw, err := os.ReadFile(filepath.Join(s.Tree().UnitDir(u), FileName))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"last_error": null`)
	assert.Contains(t, string(raw), `"artifact_refs": []`)
	assert.Contains(t, string(raw), `"completed_at": null`)
}

func TestFileStoreRejectsInvalidTransitions(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	u := units(t, "rainfall", "2020-02", "2020-02")[0]
	now := time.Now()

	success := New(u).Begin("r", now).Succeed([]string{"rainfall/2020/02/a.json"}, nil, now)
	err := s.Write(ctx, u, success)
	assert.ErrorIs(t, err, ErrInvalidTransition, "absent -> success")

	inProgress := New(u).Begin("r", now)
	require.NoError(t, s.Write(ctx, u, inProgress))
	require.NoError(t, s.Write(ctx, u, success))

	assert.ErrorIs(t, s.Write(ctx, u, success.Begin("r2", now)), ErrInvalidTransition, "success is never re-attempted")

	lower := success
	lower.Attempts = 0
	assert.ErrorIs(t, s.Write(ctx, u, lower), ErrInvalidTransition, "attempts never decrease")
}

func TestFileStoreReset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	u := units(t, "roads", "2021-03", "2021-03")[0]
	now := time.Now()

	require.NoError(t, s.Write(ctx, u, New(u).Begin("r", now)))
	require.NoError(t, s.Write(ctx, u, New(u).Begin("r", now).Succeed([]string{"roads/2021/03/r.json"}, nil, now)))

	running, err := s.Claim(ctx, u, "ingest")
	require.NoError(t, err)
	_, err = s.Reset(ctx, u, "reset")
	require.ErrorIs(t, err, ErrClaimed, "a unit being ingested is not reset")
	got, _, err := s.Read(ctx, u)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	require.NoError(t, running.Release())

	m, err := s.Reset(ctx, u, "reset")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, m.Status)
	assert.Equal(t, 1, m.Attempts)
	assert.Empty(t, m.ArtifactRefs)

	_, err = os.Stat(filepath.Join(s.Tree().UnitDir(u), claimDirName))
	assert.True(t, os.IsNotExist(err), "reset releases its claim")
	require.NoError(t, s.Write(ctx, u, m.Begin("r2", now)))
}

func TestListAllIsChronologicalAndToleratesBadFiles(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	grid := units(t, "elevation", "2020-11", "2021-02")
	for i := len(grid) - 1; i >= 0; i-- {
		require.NoError(t, s.Write(ctx, grid[i], New(grid[i])))
	}
	// noise that must be ignored
	require.NoError(t, os.MkdirAll(filepath.Join(s.Tree().Root(), "elevation", "notes"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Tree().Root(), "elevation", "2020", "13"), 0o755))

	all, err := s.ListAll(ctx, "elevation")
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "2020-11", all[0].YearMonth().String())
	assert.Equal(t, "2021-02", all[3].YearMonth().String())

	bad := filepath.Join(s.Tree().UnitDir(grid[1]), FileName)
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	all, err = s.ListAll(ctx, "elevation")
	assert.Error(t, err)
	assert.Len(t, all, 3)

	none, err := s.ListAll(ctx, "population")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	u := units(t, "radar", "2020-01", "2020-01")[0]

	var wins atomic.Int32
	var wg sync.WaitGroup
	claims := make(chan Claim, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := s.Claim(ctx, u, "run")
			if err == nil {
				wins.Add(1)
				claims <- c
				return
			}
			assert.ErrorIs(t, err, ErrClaimed)
		}()
	}
	wg.Wait()
	close(claims)
	assert.Equal(t, int32(1), wins.Load())

	for c := range claims {
		require.NoError(t, c.Release())
	}
	c, err := s.Claim(ctx, u, "run2")
	require.NoError(t, err)
	require.NoError(t, c.Release())

	_, err = os.Stat(filepath.Join(s.Tree().UnitDir(u), claimDirName))
	assert.True(t, os.IsNotExist(err))
}

func TestClaimBreaksStaleByAge(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := func() time.Time { return now }
	s := newStore(t, WithClock(clock), WithClaimStaleAfter(time.Hour))
	u := units(t, "radar", "2020-01", "2020-01")[0]

	first, err := s.Claim(ctx, u, "old")
	require.NoError(t, err)

	_, err = s.Claim(ctx, u, "new")
	require.ErrorIs(t, err, ErrClaimed)

	now = now.Add(2 * time.Hour)
	second, err := s.Claim(ctx, u, "new")
	require.NoError(t, err)

	require.NoError(t, first.Release(), "releasing a broken claim is a no-op")
	_, err = os.Stat(filepath.Join(s.Tree().UnitDir(u), claimDirName))
	require.NoError(t, err, "the new owner keeps its claim")
	require.NoError(t, second.Release())
}

func TestClaimBreaksClaimOfDeadProcess(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	u := units(t, "optical", "2020-01", "2020-01")[0]

	cmd := exec.Command(os.Args[0], "-test.run=^$")
	require.NoError(t, cmd.Run())
	deadPID := cmd.ProcessState.Pid()

	dir := filepath.Join(s.Tree().UnitDir(u), claimDirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, artifacts.WriteJSON(filepath.Join(dir, claimOwnerFile), claimOwner{
		Token:     "dead",
		RunID:     "crashed",
		PID:       deadPID,
		Hostname:  s.hostname,
		CreatedAt: time.Now().UTC(),
	}))

	c, err := s.Claim(ctx, u, "run")
	require.NoError(t, err)
	require.NoError(t, c.Release())
}

func writeOwner(t *testing.T, s *FileStore, u workunit.Unit, owner claimOwner) {
	t.Helper()
	dir := filepath.Join(s.Tree().UnitDir(u), claimDirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, artifacts.WriteJSON(filepath.Join(dir, claimOwnerFile), owner))
}

func TestConcurrentBreakersTakeStaleClaimOnce(t *testing.T) {
	ctx := context.Background()
	tree := artifacts.NewTree(t.TempDir())
	u := units(t, "radar", "2020-01", "2020-01")[0]

	const breakers = 16
	for round := 0; round < 50; round++ {
		writeOwner(t, NewFileStore(tree), u, claimOwner{
			Token:     "stale",
			RunID:     "crashed",
			PID:       1,
			Hostname:  "gone-host",
			CreatedAt: time.Now().Add(-24 * time.Hour).UTC(),
		})

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			won   = make(chan Claim, breakers)
		)
		for i := 0; i < breakers; i++ {
			s := NewFileStore(tree, WithClaimStaleAfter(time.Hour))
			s.hostname = "other-host"
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				c, err := s.Claim(ctx, u, "run")
				if err != nil {
					assert.ErrorIs(t, err, ErrClaimed)
					return
				}
				won <- c
			}()
		}
		close(start)
		wg.Wait()
		close(won)

		require.Len(t, won, 1, "round %d", round)
		c := <-won
		require.NoError(t, c.Refresh(ctx), "the winner still owns the claim")
		require.NoError(t, c.Release())
	}
}

func TestClaimOfPreviousProcessWithSamePIDIsBroken(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	u := units(t, "radar", "2020-03", "2020-03")[0]

	writeOwner(t, s, u, claimOwner{
		Token:     "live",
		RunID:     "other-run",
		PID:       os.Getpid(),
		Instance:  processInstance,
		Hostname:  s.hostname,
		CreatedAt: time.Now().UTC(),
	})
	_, err := s.Claim(ctx, u, "run")
	require.ErrorIs(t, err, ErrClaimed, "a claim of this process is live")

	writeOwner(t, s, u, claimOwner{
		Token:     "restarted",
		RunID:     "before-restart",
		PID:       os.Getpid(),
		Instance:  "previous-boot",
		Hostname:  s.hostname,
		CreatedAt: time.Now().UTC(),
	})
	c, err := s.Claim(ctx, u, "run")
	require.NoError(t, err)
	require.NoError(t, c.Release())
}

func TestClaimRefreshKeepsClaimAlive(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := func() time.Time { return now }
	s := newStore(t, WithClock(clock), WithClaimStaleAfter(time.Hour))
	u := units(t, "radar", "2020-02", "2020-02")[0]

	first, err := s.Claim(ctx, u, "long")
	require.NoError(t, err)

	now = now.Add(50 * time.Minute)
	require.NoError(t, first.Refresh(ctx))
	now = now.Add(50 * time.Minute)
	_, err = s.Claim(ctx, u, "other")
	require.ErrorIs(t, err, ErrClaimed, "a refreshed claim is not stale")

	now = now.Add(2 * time.Hour)
	second, err := s.Claim(ctx, u, "other")
	require.NoError(t, err)
	assert.ErrorIs(t, first.Refresh(ctx), ErrClaimLost)
	require.NoError(t, second.Refresh(ctx))
	require.NoError(t, second.Release())
	assert.ErrorIs(t, second.Refresh(ctx), ErrClaimLost)
}
