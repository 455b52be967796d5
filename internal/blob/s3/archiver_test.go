package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/yieldrouter/internal/domain"
	"github.com/alanyoungcy/yieldrouter/internal/store/memory"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	failPut bool
}

func newMemBlobs() *memBlobs { return &memBlobs{objects: map[string][]byte{}} }

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if m.failPut {
		return errors.New("access denied")
	}
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[path] = raw
	m.mu.Unlock()
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, jsonlContentType)
}

func (m *memBlobs) Exists(_ context.Context, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[path]
	return ok, nil
}

func (m *memBlobs) paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for p := range m.objects {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func seed(t *testing.T, store *memory.TransactionStore, id string, at time.Time) {
	t.Helper()
	require.NoError(t, store.Create(context.Background(), domain.TransactionRecord{
		ID: id, UserAddress: "alice", Type: domain.TxDeposit, Asset: "USDC",
		AmountUSD: 10, Status: domain.TxConfirmed, CreatedAt: at, UpdatedAt: at,
	}))
}

func TestArchiveTransactions_GroupsByMonth(t *testing.T) {
	txs := memory.NewTransactionStore()
	seed(t, txs, "a", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	seed(t, txs, "b", time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC))
	seed(t, txs, "c", time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC))
	seed(t, txs, "d", time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC))

	blobs := newMemBlobs()
	audit := memory.NewAuditStore()
	a := NewArchiver(blobs, blobs, txs, audit, slog.New(slog.DiscardHandler))
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	n, err := a.ArchiveTransactions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, []string{
		"archive/transactions/2026-01/before-20260301T000000Z.jsonl",
		"archive/transactions/2026-02/before-20260301T000000Z.jsonl",
	}, blobs.paths())

	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(blobs.objects["archive/transactions/2026-01/before-20260301T000000Z.jsonl"]))
	for sc.Scan() {
		var rec domain.TransactionRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)

	entries, err := audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	n, err = a.ArchiveTransactions(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "existing objects are skipped")
}

func TestArchiveTransactions_Empty(t *testing.T) {
	a := NewArchiver(newMemBlobs(), nil, memory.NewTransactionStore(), nil, slog.New(slog.DiscardHandler))
	n, err := a.ArchiveTransactions(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestArchiveTransactions_UploadFailure(t *testing.T) {
	txs := memory.NewTransactionStore()
	seed(t, txs, "a", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC))
	blobs := newMemBlobs()
	blobs.failPut = true

	a := NewArchiver(blobs, nil, txs, nil, slog.New(slog.DiscardHandler))
	_, err := a.ArchiveTransactions(context.Background(), time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorContains(t, err, "access denied")
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://s3.example.com", normaliseEndpoint("s3.example.com", true))
	assert.Equal(t, "http://localhost:9000", normaliseEndpoint("localhost:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("http://minio:9000", true))
}
