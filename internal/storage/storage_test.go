package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emberon/internal/domain"
	logx "emberon/pkg/logx"
)

func drivers(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "memory"}, logx.Nop())
			require.NoError(t, err)
			return st
		},
		"sqlite": func(t *testing.T) Store {
			st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "emberon.db")}, logx.Nop())
			require.NoError(t, err)
			t.Cleanup(func() { assert.NoError(t, st.Close()) })
			return st
		},
	}
}

func seed(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.PutOwner(ctx, domain.Owner{ID: "u1", Name: "Ada", ChatID: 42, PushEnabled: true, MissedEnabled: true}))
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for i, s := range []domain.Supplement{
		{ID: "s1", OwnerID: "u1", Name: "Vitamin D", Day: 3, Time: "08:00"},
		{ID: "s2", OwnerID: "u1", Name: "Iron", Day: 3, Time: "20:00", Status: domain.StatusTaken},
		{ID: "s3", OwnerID: "ghost", Name: "Zinc", Day: 5, Time: "07:15", Status: domain.StatusMissed},
	} {
		s.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.PutSupplement(ctx, s))
	}
}

func TestStoreSupplements(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			seed(t, st)
			ctx := context.Background()

			got, ok, err := st.FindSupplement(ctx, "s1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "Vitamin D", got.Name)
			assert.Equal(t, domain.StatusPending, got.Status)
			assert.True(t, got.LastStatusUpdate.IsZero())

			_, ok, err = st.FindSupplement(ctx, "nope")
			require.NoError(t, err)
			assert.False(t, ok)

			all, err := st.FindSupplements(ctx, Filter{WithOwner: true})
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"s1", "s2", "s3"}, []string{all[0].ID, all[1].ID, all[2].ID})
			require.NotNil(t, all[0].Owner)
			assert.Equal(t, int64(42), all[0].Owner.ChatID)
			assert.Nil(t, all[2].Owner)

			wed, err := st.FindSupplements(ctx, Filter{Day: DayFilter(3), Statuses: []domain.Status{domain.StatusTaken, domain.StatusMissed}})
			require.NoError(t, err)
			require.Len(t, wed, 1)
			assert.Equal(t, "s2", wed[0].ID)
			assert.Nil(t, wed[0].Owner)
		})
	}
}

func TestStoreUpdateSupplement(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			seed(t, st)
			ctx := context.Background()

			at := time.Date(2026, 10, 14, 7, 0, 0, 0, time.UTC)
			upd, err := st.UpdateSupplement(ctx, "s1", domain.StatusPatch(domain.StatusMissed, at))
			require.NoError(t, err)
			assert.Equal(t, domain.StatusMissed, upd.Status)
			assert.True(t, at.Equal(upd.LastStatusUpdate))

			again, _, err := st.FindSupplement(ctx, "s1")
			require.NoError(t, err)
			assert.Equal(t, domain.StatusMissed, again.Status)

			_, err = st.UpdateSupplement(ctx, "nope", domain.StatusPatch(domain.StatusTaken, at))
			assert.True(t, errors.Is(err, ErrNotFound))

			ok, err := st.DeleteSupplement(ctx, "s1")
			require.NoError(t, err)
			assert.True(t, ok)
			ok, err = st.DeleteSupplement(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreOwnersAndNotifications(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()

			require.NoError(t, st.PutOwner(ctx, domain.Owner{ID: "u1", ChatID: 7, PushEnabled: true}))
			o, ok, err := st.FindOwner(ctx, "u1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, o.PushEnabled)
			assert.False(t, o.MissedEnabled)

			_, ok, err = st.FindOwner(ctx, "u2")
			require.NoError(t, err)
			assert.False(t, ok)
			assert.Error(t, st.PutOwner(ctx, domain.Owner{}))

			t0 := time.Date(2026, 10, 14, 7, 0, 0, 0, time.UTC)
			id1, err := st.AppendNotification(ctx, Notification{OwnerID: "u1", Title: "a", Body: "b", SentAt: t0, Delivered: true,
				Data: map[string]string{"supplementId": "s1"}, SupplementID: "s1"})
			require.NoError(t, err)
			assert.NotEmpty(t, id1)
			_, err = st.AppendNotification(ctx, Notification{OwnerID: "u1", Title: "c", Body: "d", SentAt: t0.Add(time.Minute)})
			require.NoError(t, err)

			list, err := st.ListNotifications(ctx, "u1", 10)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "c", list[0].Title)
			assert.Equal(t, id1, list[1].ID)
			assert.Equal(t, "s1", list[1].Data["supplementId"])
			assert.True(t, list[1].Delivered)
		})
	}
}

func TestPutSupplementValidates(t *testing.T) {
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			err := st.PutSupplement(context.Background(), domain.Supplement{ID: "x", OwnerID: "u", Day: 2, Time: "8:00"})
			assert.Error(t, err)
		})
	}
}

func TestSQLiteMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emberon.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	require.NoError(t, err)
	require.NoError(t, st.PutOwner(context.Background(), domain.Owner{ID: "u1"}))
	require.NoError(t, st.Close())

	st, err = Open(Config{Path: path}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	_, ok, err := st.FindOwner(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "redis"}, logx.Nop())
	assert.Error(t, err)
}

func TestMemoryFailNext(t *testing.T) {
	m := NewMemory()
	boom := errors.New("boom")
	m.FailNext("FindSupplements", boom)
	_, err := m.FindSupplements(context.Background(), Filter{})
	assert.ErrorIs(t, err, boom)
	_, err = m.FindSupplements(context.Background(), Filter{})
	assert.NoError(t, err)
}

func TestFindSupplementsOrdersByCreatedAt(t *testing.T) {
	// 100ms and 120ms share a prefix; only a fixed-width layout sorts them right.
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	for name, open := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			st := open(t)
			ctx := context.Background()
			require.NoError(t, st.PutOwner(ctx, domain.Owner{ID: "u1", PushEnabled: true}))
			require.NoError(t, st.PutSupplement(ctx, domain.Supplement{ID: "later", OwnerID: "u1", Name: "Iron", Day: 3, Time: "08:00", CreatedAt: base.Add(120 * time.Millisecond)}))
			require.NoError(t, st.PutSupplement(ctx, domain.Supplement{ID: "earlier", OwnerID: "u1", Name: "Iron", Day: 3, Time: "08:00", CreatedAt: base.Add(100 * time.Millisecond)}))
			require.NoError(t, st.PutSupplement(ctx, domain.Supplement{ID: "whole", OwnerID: "u1", Name: "Iron", Day: 3, Time: "08:00", CreatedAt: base.Add(time.Second)}))

			list, err := st.FindSupplements(ctx, Filter{WithOwner: true})
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, []string{"earlier", "later", "whole"}, []string{list[0].ID, list[1].ID, list[2].ID})
			assert.True(t, list[0].CreatedAt.Equal(base.Add(100*time.Millisecond)))
		})
	}
}
