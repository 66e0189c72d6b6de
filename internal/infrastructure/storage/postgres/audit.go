package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/id"
	"stockledger/internal/domain/audit"
)

// CompressionAlgo is the encoding of a stored changes payload.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// AuditEntry is a row of sys_audit.
type AuditEntry struct {
	ID                id.ID           `db:"id"`
	EntityType        string          `db:"entity_type"`
	EntityID          id.ID           `db:"entity_id"`
	Action            audit.Action    `db:"action"`
	Changes           json.RawMessage `db:"changes"`
	ChangesCompressed []byte          `db:"changes_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	Metadata          json.RawMessage `db:"metadata"`
	CreatedAt         time.Time       `db:"created_at"`
}

// AuditService stores the audit trail of balance closing and reopening.
// Payloads above the threshold are zstd compressed.
type AuditService struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

var _ audit.Recorder = (*AuditService)(nil)

// NewAuditService creates a new audit service.
func NewAuditService(txManager *TxManager) (*AuditService, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &AuditService{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: 4 * 1024,
	}, nil
}

// Record stores entry in the transaction of ctx.
func (s *AuditService) Record(ctx context.Context, entry audit.Entry) error {
	changes, err := json.Marshal(entry.Changes)
	if err != nil {
		return fmt.Errorf("marshal changes: %w", err)
	}
	metadata, err := json.Marshal(scopeMetadata(ctx))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	row := s.encode(AuditEntry{
		ID:         id.New(),
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Action:     entry.Action,
		Changes:    changes,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	})

	_, err = s.txManager.Querier(ctx).Exec(ctx, `
		INSERT INTO sys_audit (
			id, entity_type, entity_id, action,
			changes, changes_compressed, compression_algo, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		row.ID, row.EntityType, row.EntityID, row.Action,
		row.Changes, row.ChangesCompressed, row.CompressionAlgo, row.Metadata, row.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// History returns the audit trail of an entity, newest first.
func (s *AuditService) History(ctx context.Context, entityType string, entityID id.ID, limit int) ([]AuditEntry, error) {
	var entries []AuditEntry
	err := pgxscan.Select(ctx, s.txManager.Querier(ctx), &entries, `
		SELECT id, entity_type, entity_id, action,
		       changes, changes_compressed, compression_algo, metadata, created_at
		FROM sys_audit
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
		LIMIT $3`, entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit history: %w", err)
	}

	for i := range entries {
		if err := s.decode(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (s *AuditService) encode(e AuditEntry) AuditEntry {
	e.CompressionAlgo = CompressionNone
	if len(e.Changes) > s.compressThreshold {
		e.ChangesCompressed = s.encoder.EncodeAll(e.Changes, nil)
		e.Changes = nil
		e.CompressionAlgo = CompressionZstd
	}
	return e
}

func (s *AuditService) decode(e *AuditEntry) error {
	if e.CompressionAlgo != CompressionZstd || len(e.ChangesCompressed) == 0 {
		return nil
	}
	raw, err := s.decoder.DecodeAll(e.ChangesCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress audit entry %s: %w", e.ID, err)
	}
	e.Changes = raw
	e.ChangesCompressed = nil
	return nil
}

func scopeMetadata(ctx context.Context) map[string]string {
	md := map[string]string{}
	if scope := appctx.GetLedgerScope(ctx); scope != nil {
		md["tenant_id"] = scope.TenantID
		md["company_id"] = scope.CompanyID
		if scope.DocumentID != "" {
			md["document_id"] = scope.DocumentID
		}
	}
	if trace := appctx.GetTrace(ctx); trace != nil {
		md["trace_id"] = trace.TraceID
		md["request_id"] = trace.RequestID
	}
	return md
}
