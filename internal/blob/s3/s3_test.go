package s3blob

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (m *memBlobs) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.objects[path] = b
	m.types[path] = contentType
	m.mu.Unlock()
	return nil
}

func (m *memBlobs) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return m.Put(ctx, path, data, "")
}

type memLiquidations struct {
	domain.LiquidationStore
	rows []domain.LiquidationAttempt
}

func (m memLiquidations) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.LiquidationAttempt, error) {
	var out []domain.LiquidationAttempt
	for _, r := range m.rows {
		if opts.Since == nil || !r.CreatedAt.Before(*opts.Since) {
			out = append(out, r)
		}
	}
	return out, nil
}

type memAudit struct {
	domain.AuditStore
	events []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.events = append(m.events, event)
	return nil
}

func readJSONL(t *testing.T, raw []byte) []map[string]any {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	require.NoError(t, err)
	var out []map[string]any
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func fixedClock() time.Time { return time.Date(2026, 10, 18, 15, 30, 0, 0, time.UTC) }

func TestArchiveOracleHistory(t *testing.T) {
	blobs := newMemBlobs()
	audit := &memAudit{}
	a := NewArchiver(blobs, nil, audit)
	a.now = fixedClock

	key, err := a.ArchiveOracleHistory(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, key)

	samples := []domain.OraclePrice{
		{Asset: "ADA", Price: 0.45, RoundID: 1, Source: "simulated"},
		{Asset: "ADA", Price: 0.44, RoundID: 2, Source: "simulated"},
	}
	key, err = a.ArchiveOracleHistory(context.Background(), samples)
	require.NoError(t, err)
	assert.Equal(t, "archive/oracle/ada/2026/10/18/153000.jsonl.gz", key)
	assert.Equal(t, "application/x-ndjson", blobs.types[key])

	lines := readJSONL(t, blobs.objects[key])
	require.Len(t, lines, 2)
	assert.InDelta(t, 0.44, lines[1]["price"], 1e-12)
	assert.InDelta(t, 2, lines[1]["round_id"], 0)
	assert.Equal(t, []string{"archive.oracle_history"}, audit.events)
}

func TestArchiveLiquidations(t *testing.T) {
	blobs := newMemBlobs()
	cutoff := fixedClock().Add(-time.Hour)
	store := memLiquidations{rows: []domain.LiquidationAttempt{
		{ID: uuid.New(), PositionID: "old", Outcome: domain.LiquidationFailed, CreatedAt: cutoff.Add(-time.Minute)},
		{ID: uuid.New(), PositionID: "p1", Debt: 10, CollateralAmount: 20, Outcome: domain.LiquidationSucceeded, Source: "monitor", CreatedAt: cutoff.Add(time.Minute)},
	}}
	a := NewArchiver(blobs, store, nil)
	a.now = fixedClock

	n, err := a.ArchiveLiquidations(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	lines := readJSONL(t, blobs.objects["archive/liquidations/2026/10/18/153000.jsonl.gz"])
	require.Len(t, lines, 1)
	assert.Equal(t, "p1", lines[0]["position_id"])
	assert.Equal(t, "succeeded", lines[0]["outcome"])
}

func TestArchiveLiquidationsWithoutStore(t *testing.T) {
	n, err := NewArchiver(newMemBlobs(), nil, nil).ArchiveLiquidations(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("https://minio:9000", false))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
}

func TestWriterAndReaderAgainstHTTP(t *testing.T) {
	var mu sync.Mutex
	stored := map[string][]byte{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		switch r.Method {
		case http.MethodPut:
			b, _ := io.ReadAll(r.Body)
			stored[r.URL.Path] = b
			w.WriteHeader(http.StatusOK)
		case http.MethodHead:
			if _, ok := stored[r.URL.Path]; ok {
				w.WriteHeader(http.StatusOK)
				return
			}
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	defer srv.Close()

	c, err := New(context.Background(), ClientConfig{
		Endpoint:       srv.URL,
		Region:         "us-east-1",
		Bucket:         "archives",
		AccessKey:      "test",
		SecretKey:      "test",
		ForcePathStyle: true,
	})
	require.NoError(t, err)

	r := NewReader(c)
	ok, err := r.Exists(context.Background(), "a/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, NewWriter(c).Put(context.Background(), "a/b.txt", strings.NewReader("hello"), "text/plain"))
	mu.Lock()
	_, saved := stored["/archives/a/b.txt"]
	mu.Unlock()
	assert.True(t, saved)

	ok, err = r.Exists(context.Background(), "a/b.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewRequiresBucketAndRegion(t *testing.T) {
	_, err := New(context.Background(), ClientConfig{Region: "us-east-1"})
	assert.Error(t, err)
	_, err = New(context.Background(), ClientConfig{Bucket: "b"})
	assert.Error(t, err)
}
