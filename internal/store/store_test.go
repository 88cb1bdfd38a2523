package store_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ErlanBelekov/notify-scheduler/internal/codec"
	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
	"github.com/ErlanBelekov/notify-scheduler/internal/store"
)

var created = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func oneShot(id int64, at time.Time) *domain.ScheduleRequest {
	return &domain.ScheduleRequest{ID: id, FireAt: at, CreatedAt: created, Tier: domain.TierExact}
}

func daily(id int64, hour int) *domain.ScheduleRequest {
	return &domain.ScheduleRequest{
		ID: id, CreatedAt: created, Tier: domain.TierExact,
		Repeat: domain.DailyAtTime{Clock: domain.Clock{Hour: hour}},
	}
}

func newStore(t *testing.T, records ...store.Record) (*store.Store, *store.MemoryBackend) {
	t.Helper()
	b := store.NewMemoryBackend(records...)
	return store.New(b, codec.New(), slog.Default()), b
}

func encodeAt(t *testing.T, r *domain.ScheduleRequest, version int) store.Record {
	t.Helper()
	w := r.Clone()
	w.SchemaVersion = version
	b, err := codec.New().Encode(w)
	require.NoError(t, err)
	return store.Record{ID: r.ID, SchemaVersion: version, Data: b}
}

func ids(rs []*domain.ScheduleRequest) []int64 {
	out := make([]int64, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func TestUpsert_ReplacesSameID(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	require.NoError(t, s.Upsert(ctx, oneShot(1, created.Add(time.Hour))))
	require.NoError(t, s.Upsert(ctx, daily(1, 9)))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.RepeatDaily, domain.KindOf(all[0].Repeat))
	assert.Equal(t, domain.CurrentSchemaVersion, all[0].SchemaVersion)
}

func TestUpsert_StoresCopy(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	r := oneShot(1, created.Add(time.Hour))
	r.Payload = []byte("hello")
	require.NoError(t, s.Upsert(ctx, r))
	r.Payload[0] = 'j'

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Payload)
}

func TestRemove_Idempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	require.NoError(t, s.Upsert(ctx, oneShot(1, created.Add(time.Hour))))
	require.NoError(t, s.Remove(ctx, 1))
	require.NoError(t, s.Remove(ctx, 1))
	require.NoError(t, s.Remove(ctx, 99))

	_, err := s.Get(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemove_AbsentSkipsWrite(t *testing.T) {
	ctx := context.Background()
	s, b := newStore(t)
	b.SaveErr = errors.New("read-only")

	assert.NoError(t, s.Remove(ctx, 5))
}

func TestReplaceAll(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	require.NoError(t, s.Upsert(ctx, oneShot(1, created.Add(time.Hour))))
	require.NoError(t, s.Upsert(ctx, oneShot(2, created.Add(time.Hour))))

	require.NoError(t, s.ReplaceAll(ctx, []*domain.ScheduleRequest{daily(3, 8), daily(2, 7)}))

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids(all))

	require.NoError(t, s.ReplaceAll(ctx, nil))
	all, err = s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestListAll_OrderedByID(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	for _, id := range []int64{30, 4, 17} {
		require.NoError(t, s.Upsert(ctx, daily(id, 6)))
	}

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 17, 30}, ids(all))
}

func TestLoad_MixedVersionsUpgradedOnWrite(t *testing.T) {
	ctx := context.Background()
	s, b := newStore(t,
		encodeAt(t, daily(1, 9), 1),
		encodeAt(t, oneShot(2, created.Add(time.Hour)), 2),
	)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, ids(all))
	assert.Equal(t, 1, all[0].SchemaVersion)
	assert.Equal(t, 2, all[1].SchemaVersion)

	require.NoError(t, s.Upsert(ctx, oneShot(3, created.Add(2*time.Hour))))

	for _, rec := range b.Records() {
		assert.Equal(t, domain.CurrentSchemaVersion, rec.SchemaVersion, "record %d", rec.ID)
	}

	got, err := s.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.CurrentSchemaVersion, got.SchemaVersion)
	assert.Equal(t, domain.DailyAtTime{Clock: domain.Clock{Hour: 9}}, got.Repeat)
}

func TestLoad_CorruptRecordSkippedThenDropped(t *testing.T) {
	ctx := context.Background()
	s, b := newStore(t,
		encodeAt(t, daily(1, 9), 2),
		store.Record{ID: 2, SchemaVersion: 2, Data: []byte(`{"schemaVersion":2,"id":`)},
		store.Record{ID: 3, SchemaVersion: 9, Data: []byte(`{"schemaVersion":9,"id":3}`)},
		encodeAt(t, daily(5, 9), 2),
	)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 5}, ids(all))

	// The backend still holds the bad rows until something is written.
	assert.Len(t, b.Records(), 4)

	require.NoError(t, s.Remove(ctx, 5))
	recs := b.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, int64(1), recs[0].ID)
}

func TestLoad_KeyMismatchIsCorrupt(t *testing.T) {
	ctx := context.Background()
	rec := encodeAt(t, daily(1, 9), 2)
	rec.ID = 8
	s, _ := newStore(t, rec)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestBackendErrorsWrapStorage(t *testing.T) {
	ctx := context.Background()
	s, b := newStore(t)

	b.SaveErr = errors.New("disk full")
	err := s.Upsert(ctx, oneShot(1, created.Add(time.Hour)))
	require.ErrorIs(t, err, domain.ErrStorage)
	assert.ErrorContains(t, err, "disk full")

	b.SaveErr = nil
	b.LoadErr = errors.New("io error")
	_, err = s.ListAll(ctx)
	assert.ErrorIs(t, err, domain.ErrStorage)
	_, err = s.Get(ctx, 1)
	assert.ErrorIs(t, err, domain.ErrStorage)
}

func TestFailedWriteLeavesPreviousSet(t *testing.T) {
	ctx := context.Background()
	s, b := newStore(t)

	require.NoError(t, s.Upsert(ctx, oneShot(1, created.Add(time.Hour))))
	b.SaveErr = errors.New("disk full")
	require.Error(t, s.Upsert(ctx, oneShot(2, created.Add(time.Hour))))
	b.SaveErr = nil

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(all))
}

func TestMutate_CallbackErrorAbortsWrite(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	require.NoError(t, s.Upsert(ctx, oneShot(1, created.Add(time.Hour))))

	boom := errors.New("boom")
	err := s.Mutate(ctx, func(set store.Set) error {
		delete(set, 1)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, 1)
	assert.NoError(t, err)
}

func TestMutate_InvalidRequestRejected(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	err := s.Upsert(ctx, &domain.ScheduleRequest{ID: 1, Tier: domain.TierExact, CreatedAt: created})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
