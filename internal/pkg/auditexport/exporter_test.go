package auditexport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandbridge/brandbridge/app/models"
	"github.com/brandbridge/brandbridge/app/repository/memrepo"
	"github.com/brandbridge/brandbridge/internal/pkg/ledger"
	"github.com/brandbridge/brandbridge/internal/pkg/profile"
)

type memStore struct {
	objects map[string][]byte
	types   map[string]string
}

func newMemStore() *memStore {
	return &memStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (m *memStore) PutObject(_ context.Context, key string, body []byte, ct string) error {
	m.objects[key] = append([]byte(nil), body...)
	m.types[key] = ct
	return nil
}

func (m *memStore) ObjectExists(_ context.Context, key string) (bool, error) {
	_, ok := m.objects[key]
	return ok, nil
}

func TestObjectKey(t *testing.T) {
	day := time.Date(2026, 3, 7, 23, 30, 0, 0, time.FixedZone("X", -2*3600))
	assert.Equal(t, "ledger/2026/03/08.jsonl", ObjectKey("ledger", day))
	assert.Equal(t, "2026/03/08.jsonl", ObjectKey("", day))
}

func TestExportDay(t *testing.T) {
	ctx := context.Background()
	store := memrepo.New()
	repos := store.Repositories()
	l := ledger.NewService(repos.Ledger, profile.NewResolver(repos.User, repos.Profile))
	_, _, err := repos.User.Ensure(ctx, &models.User{ID: "biz", Role: models.ROLE_BUSINESS})
	require.NoError(t, err)

	day := time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC)
	stamps := []time.Time{
		day.Add(-time.Minute), // previous day
		day.Add(time.Hour),
		day.Add(2 * time.Hour),
		day.Add(3 * time.Hour),
		day.Add(24 * time.Hour), // next day
	}
	for i, at := range stamps {
		store.SetClock(func() time.Time { return at })
		_, err := l.RecordCredit(ctx, "biz", int64(i+1), models.TransactionTypePurchase, "credit")
		require.NoError(t, err)
	}

	objects := newMemStore()
	exp := NewExporter(repos.Ledger, objects, "ledger")
	exp.batchSize = 2

	res, err := exp.ExportDay(ctx, day.Add(5*time.Hour), false)
	require.NoError(t, err)
	assert.Equal(t, "ledger/2026/03/07.jsonl", res.Key)
	assert.Equal(t, 3, res.Count)
	assert.Equal(t, contentType, objects.types[res.Key])

	var amounts []int64
	scanner := bufio.NewScanner(bytes.NewReader(objects.objects[res.Key]))
	for scanner.Scan() {
		var tx models.TokenTransaction
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &tx))
		amounts = append(amounts, tx.Amount)
	}
	assert.Equal(t, []int64{2, 3, 4}, amounts)

	_, err = exp.ExportDay(ctx, day, false)
	assert.Error(t, err, "existing export is kept")

	res, err = exp.ExportDay(ctx, day, true)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Count)
}

func TestExportEmptyDay(t *testing.T) {
	objects := newMemStore()
	exp := NewExporter(memrepo.New().Repositories().Ledger, objects, "ledger")

	res, err := exp.ExportDay(context.Background(), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), false)
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.Empty(t, objects.objects[res.Key])
}
