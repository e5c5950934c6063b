package s3blob

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/statera-protocol/statera-protocol-midnight/internal/domain"
)

// multipartThreshold switches uploads to the transfer manager.
const multipartThreshold = 64 << 20

// Archiver implements domain.Archiver. Archives are gzip-compressed JSONL
// objects under archive/<kind>/. Source rows are never deleted here.
type Archiver struct {
	writer       domain.BlobWriter
	liquidations domain.LiquidationStore
	audit        domain.AuditStore
	now          func() time.Time
}

// NewArchiver creates an Archiver. liquidations and audit may be nil, in
// which case ArchiveLiquidations archives nothing and no audit row is
// written.
func NewArchiver(writer domain.BlobWriter, liquidations domain.LiquidationStore, audit domain.AuditStore) *Archiver {
	return &Archiver{
		writer:       writer,
		liquidations: liquidations,
		audit:        audit,
		now:          time.Now,
	}
}

type archivedAttempt struct {
	ID               string    `json:"id"`
	PositionID       string    `json:"position_id"`
	Debt             int64     `json:"debt"`
	CollateralAmount int64     `json:"collateral_amount"`
	Outcome          string    `json:"outcome"`
	Reason           string    `json:"reason,omitempty"`
	TxHash           string    `json:"tx_hash,omitempty"`
	BlockHeight      int64     `json:"block_height,omitempty"`
	Source           string    `json:"source"`
	CreatedAt        time.Time `json:"created_at"`
}

// ArchiveOracleHistory uploads samples and returns the object key. An empty
// batch uploads nothing and returns "".
func (a *Archiver) ArchiveOracleHistory(ctx context.Context, samples []domain.OraclePrice) (string, error) {
	if len(samples) == 0 {
		return "", nil
	}
	asset := strings.ToLower(samples[0].Asset)
	key := archiveKey("oracle/"+asset, a.now())
	if err := upload(ctx, a.writer, key, samples); err != nil {
		return "", fmt.Errorf("s3blob: archive oracle history: %w", err)
	}
	a.logAudit(ctx, "archive.oracle_history", key, len(samples))
	return key, nil
}

// ArchiveLiquidations uploads every attempt recorded since the cutoff and
// returns how many were archived.
func (a *Archiver) ArchiveLiquidations(ctx context.Context, since time.Time) (int64, error) {
	if a.liquidations == nil {
		return 0, nil
	}
	attempts, err := a.liquidations.ListRecent(ctx, domain.ListOpts{Since: &since})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive liquidations query: %w", err)
	}
	if len(attempts) == 0 {
		return 0, nil
	}

	rows := make([]archivedAttempt, len(attempts))
	for i, at := range attempts {
		rows[i] = archivedAttempt{
			ID:               at.ID.String(),
			PositionID:       at.PositionID,
			Debt:             at.Debt,
			CollateralAmount: at.CollateralAmount,
			Outcome:          string(at.Outcome),
			Reason:           at.Reason,
			TxHash:           at.TxHash,
			BlockHeight:      at.BlockHeight,
			Source:           at.Source,
			CreatedAt:        at.CreatedAt,
		}
	}

	key := archiveKey("liquidations", a.now())
	if err := upload(ctx, a.writer, key, rows); err != nil {
		return 0, fmt.Errorf("s3blob: archive liquidations: %w", err)
	}
	a.logAudit(ctx, "archive.liquidations", key, len(rows))
	return int64(len(rows)), nil
}

func upload[T any](ctx context.Context, w domain.BlobWriter, key string, rows []T) error {
	buf, err := gzipJSONL(rows)
	if err != nil {
		return err
	}
	if buf.Len() > multipartThreshold {
		return w.PutMultipart(ctx, key, buf, 0)
	}
	return w.Put(ctx, key, buf, "application/x-ndjson")
}

func (a *Archiver) logAudit(ctx context.Context, event, key string, n int) {
	if a.audit == nil {
		return
	}
	// Best effort; the archive itself already succeeded.
	_ = a.audit.Log(ctx, event, map[string]any{"path": key, "count": n})
}

// archiveKey partitions by day:
//
//	archive/oracle/ada/2026/10/18/153000.jsonl.gz
func archiveKey(kind string, at time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl.gz", kind, at.UTC().Format("2006/01/02/150405"))
}

// gzipJSONL writes one compact JSON document per line into a gzip stream.
func gzipJSONL[T any](rows []T) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	enc.SetEscapeHTML(false)
	for i, row := range rows {
		if err := enc.Encode(row); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return &buf, nil
}

var _ domain.Archiver = (*Archiver)(nil)
