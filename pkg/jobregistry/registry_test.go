package jobregistry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return Open(filepath.Join(t.TempDir(), "expinfo.json"))
}

func intPtr(i int) *int    { return &i }
func boolPtr(b bool) *bool { return &b }

func TestNewRegistry_DefaultsLockTimeout(t *testing.T) {
	reg := newTestRegistry(t)
	assert.Equal(t, DefaultLockTimeout, reg.Store().Timeout())

	custom := NewRegistry(NewStore(filepath.Join(t.TempDir(), "x.json"), WithLockTimeout(3*time.Second)))
	assert.Equal(t, 3*time.Second, custom.Store().Timeout())
}

func TestRegistry_JobsEmpty(t *testing.T) {
	reg := newTestRegistry(t)

	jobs, err := reg.Jobs(context.Background())
	require.NoError(t, err)
	require.NotNil(t, jobs)
	assert.Empty(t, jobs)
}

func TestRegistry_GetMissing(t *testing.T) {
	reg := newTestRegistry(t)

	j, ok, err := reg.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Job{}, j)
}

func TestRegistry_SetMergesFields(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.Set(ctx, "job-1", Patch{
		User:      strPtr("alice"),
		Start:     strPtr("2026-01-19 12:00:00"),
		End:       strPtr("2026-01-19 13:00:00"),
		Cmd:       strPtr("sleep 100"),
		Msg:       strPtr("warmup"),
		Exclusive: boolPtr(true),
		PID:       intPtr(0),
	}))
	require.NoError(t, reg.Set(ctx, "job-1", Patch{PID: intPtr(777)}))

	got, ok, err := reg.Get(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "alice", got.User)
	assert.Equal(t, "sleep 100", got.Cmd)
	assert.Equal(t, "warmup", got.Msg)
	assert.True(t, got.Exclusive)
	require.NotNil(t, got.End)
	assert.Equal(t, "2026-01-19 13:00:00", *got.End)
	assert.Equal(t, 777, got.PID)
}

func TestRegistry_SetCreatesFromZeroRecord(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)

	require.NoError(t, reg.Set(ctx, "job-1", Patch{PID: intPtr(12)}))

	got, ok, err := reg.Get(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Job{PID: 12}, got)
}

func TestRegistry_SetLeavesOtherRecords(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	require.NoError(t, reg.Set(ctx, "a", Patch{User: strPtr("alice")}))
	require.NoError(t, reg.Set(ctx, "b", Patch{User: strPtr("bob")}))
	require.NoError(t, reg.Set(ctx, "a", Patch{Msg: strPtr("hi")}))

	jobs, err := reg.Jobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, Jobs{
		"a": {User: "alice", Msg: "hi"},
		"b": {User: "bob"},
	}, jobs)
}

func TestRegistry_SetRequiresID(t *testing.T) {
	reg := newTestRegistry(t)
	assert.Error(t, reg.Set(context.Background(), " ", Patch{}))
}

func TestRegistry_RemoveReturnsCopy(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	require.NoError(t, reg.Set(ctx, "job-1", Patch{User: strPtr("alice"), PID: intPtr(99)}))

	removed, ok, err := reg.Remove(ctx, "job-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 99, removed.PID)
	assert.Equal(t, "alice", removed.User)

	jobs, err := reg.Jobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestRegistry_RemoveIsIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := newTestRegistry(t)
	require.NoError(t, reg.Set(ctx, "keep", Patch{User: strPtr("bob")}))
	require.NoError(t, reg.Set(ctx, "gone", Patch{User: strPtr("alice")}))

	_, ok, err := reg.Remove(ctx, "gone")
	require.NoError(t, err)
	require.True(t, ok)

	before, err := os.ReadFile(reg.Store().Path())
	require.NoError(t, err)

	removed, ok, err := reg.Remove(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Job{}, removed)

	after, err := os.ReadFile(reg.Store().Path())
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
}

func TestRegistry_BusyLockSurfacesTimeout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "expinfo.json")
	reg := NewRegistry(NewStore(path, WithLockTimeout(150*time.Millisecond), WithPollInterval(10*time.Millisecond)))

	holder, err := NewStore(path).Open(ctx)
	require.NoError(t, err)
	defer func() { _ = holder.Close() }()

	_, err = reg.Jobs(ctx)
	assert.ErrorIs(t, err, ErrAcquisitionTimeout)

	err = reg.Set(ctx, "x", Patch{PID: intPtr(1)})
	assert.ErrorIs(t, err, ErrAcquisitionTimeout)

	_, _, err = reg.Remove(ctx, "x")
	assert.ErrorIs(t, err, ErrAcquisitionTimeout)

	_, err = reg.Admit(ctx, "x", Job{User: "alice"})
	assert.ErrorIs(t, err, ErrAcquisitionTimeout)
}

// Concurrent writers through independent descriptors must never lose an
// update: the final document is the one produced by some serial order.
func TestRegistry_ConcurrentTransactionsAreLinearizable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "expinfo.json")
	const n = 24

	var wg sync.WaitGroup
	errs := make(chan error, 3*n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Each worker gets its own Store, hence its own open file description.
			reg := NewRegistry(NewStore(path, WithLockTimeout(20*time.Second), WithPollInterval(2*time.Millisecond)))
			id := fmt.Sprintf("job-%02d", i)
			if err := reg.Set(ctx, id, Patch{User: strPtr("u"), PID: intPtr(0)}); err != nil {
				errs <- err
				return
			}
			if err := reg.Set(ctx, id, Patch{PID: intPtr(1000 + i)}); err != nil {
				errs <- err
				return
			}
			if i%2 == 0 {
				if _, _, err := reg.Remove(ctx, id); err != nil {
					errs <- err
				}
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	jobs, err := Open(path).Jobs(ctx)
	require.NoError(t, err)

	want := Jobs{}
	for i := 1; i < n; i += 2 {
		want[fmt.Sprintf("job-%02d", i)] = Job{User: "u", PID: 1000 + i}
	}
	assert.Equal(t, want, jobs)
}

func TestRegistry_Admit(t *testing.T) {
	exclusiveJob := Job{User: "alice", Exclusive: true}
	sharedJob := Job{User: "bob"}

	tests := []struct {
		name      string
		existing  Jobs
		request   Job
		wantErr   error
		wantCount int
	}{
		{name: "shared into empty", existing: Jobs{}, request: sharedJob, wantCount: 1},
		{name: "exclusive into empty", existing: Jobs{}, request: exclusiveJob, wantCount: 1},
		{name: "shared next to shared", existing: Jobs{"a": sharedJob}, request: sharedJob, wantCount: 2},
		{name: "shared next to exclusive", existing: Jobs{"a": exclusiveJob}, request: sharedJob, wantErr: ErrExclusiveHeld, wantCount: 1},
		{name: "exclusive next to exclusive", existing: Jobs{"a": exclusiveJob}, request: exclusiveJob, wantErr: ErrExclusiveHeld, wantCount: 1},
		{name: "exclusive next to shared", existing: Jobs{"a": sharedJob}, request: exclusiveJob, wantErr: ErrRegistryOccupied, wantCount: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			reg := newTestRegistry(t)
			require.NoError(t, reg.Store().With(ctx, func(h *Handle) error { return h.Store(tt.existing) }))

			snapshot, err := reg.Admit(ctx, "new", tt.request)
			assert.Equal(t, tt.existing, snapshot)

			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrAdmissionRefused)
				assert.ErrorIs(t, err, tt.wantErr)
				var admErr *AdmissionError
				require.True(t, errors.As(err, &admErr))
				assert.Equal(t, tt.existing, admErr.Jobs)
			} else {
				require.NoError(t, err)
			}

			jobs, err := reg.Jobs(ctx)
			require.NoError(t, err)
			assert.Len(t, jobs, tt.wantCount)
			_, created := jobs["new"]
			assert.Equal(t, tt.wantErr == nil, created)
		})
	}
}

func TestRegistry_ConcurrentExclusiveAdmissions(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "expinfo.json")
	const n = 12

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int
		refused  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg := NewRegistry(NewStore(path, WithLockTimeout(20*time.Second), WithPollInterval(2*time.Millisecond)))
			_, err := reg.Admit(ctx, fmt.Sprintf("job-%d", i), Job{User: "u", Exclusive: true})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, ErrAdmissionRefused):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, admitted)
	assert.Equal(t, n-1, refused)

	jobs, err := Open(path).Jobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}
