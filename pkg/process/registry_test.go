package process

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(quota int) *Registry {
	return NewRegistry(quota, 16, 10*time.Minute)
}

func TestRegistryCreateAndGet(t *testing.T) {
	r := newTestRegistry(10)

	p, err := r.Create("list all users", "alice@example.com")
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, StatusInitializing, p.Status())

	got, err := r.Get(p.ID)
	require.NoError(t, err)
	assert.Same(t, p, got)

	_, err = r.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryOwnerQuota(t *testing.T) {
	r := newTestRegistry(2)

	_, err := r.Create("q1", "alice")
	require.NoError(t, err)
	p2, err := r.Create("q2", "alice")
	require.NoError(t, err)

	_, err = r.Create("q3", "alice")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// Another owner is unaffected.
	_, err = r.Create("q4", "bob")
	require.NoError(t, err)

	// A terminal process frees quota.
	p2.SetStatus(StatusCompleted)
	_, err = r.Create("q5", "alice")
	require.NoError(t, err)
}

func TestRegistryReapEvictsExpiredTerminal(t *testing.T) {
	r := NewRegistry(10, 16, 50*time.Millisecond)

	done, err := r.Create("finished", "alice")
	require.NoError(t, err)
	done.SetStatus(StatusCompleted)

	live, err := r.Create("running", "alice")
	require.NoError(t, err)
	live.SetStatus(StatusExecuting)

	r.reap(time.Now().Add(time.Second))

	_, err = r.Get(done.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Get(live.ID)
	assert.NoError(t, err)
}

func TestRegistryReapKeepsRecentTerminal(t *testing.T) {
	r := NewRegistry(10, 16, 10*time.Minute)

	p, err := r.Create("finished", "alice")
	require.NoError(t, err)
	p.SetStatus(StatusError)

	r.reap(time.Now())

	_, err = r.Get(p.ID)
	assert.NoError(t, err)
}

func TestRegistryShutdownCancelsLiveProcesses(t *testing.T) {
	r := newTestRegistry(10)
	r.Start()

	p, err := r.Create("running", "alice")
	require.NoError(t, err)

	r.Shutdown()

	assert.Error(t, p.Context().Err())
	assert.Equal(t, 0, r.Len())
}

func TestProcessCancelIdempotent(t *testing.T) {
	p := New("id", "q", "alice", 16)
	assert.NoError(t, p.Context().Err())

	assert.True(t, p.Cancel())
	assert.Error(t, p.Context().Err())

	// Only the first cancel reports having fired.
	assert.False(t, p.Cancel())
}

func TestProcessMarkStartedOnce(t *testing.T) {
	p := New("id", "q", "alice", 16)
	assert.True(t, p.MarkStarted())
	assert.False(t, p.MarkStarted())
}

func TestProcessTerminalRecordsEndTime(t *testing.T) {
	p := New("id", "q", "alice", 16)
	assert.True(t, p.EndedAt().IsZero())

	p.SetStatus(StatusCancelled)
	first := p.EndedAt()
	assert.False(t, first.IsZero())

	// A second terminal transition keeps the original end time.
	p.SetStatus(StatusError)
	assert.Equal(t, first, p.EndedAt())
}

func TestSnapshotReflectsState(t *testing.T) {
	p := New("id-1", "show groups", "alice", 16)
	p.SetStatus(StatusPlanning)

	snap := p.Snapshot()
	assert.Equal(t, "id-1", snap.ID)
	assert.Equal(t, "show groups", snap.Query)
	assert.Equal(t, StatusPlanning, snap.Status)
	assert.Nil(t, snap.Plan)
}
