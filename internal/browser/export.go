package browser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/sqlgpt/sqlgpt/internal/executor"
	"github.com/sqlgpt/sqlgpt/internal/observability"
	"github.com/sqlgpt/sqlgpt/internal/storage"
)

// ExportResult describes a table snapshot written to the object store.
type ExportResult struct {
	Key       string `json:"key"`
	RowCount  int64  `json:"row_count"`
	Bytes     int64  `json:"bytes"`
	Truncated bool   `json:"truncated"`

	// DownloadURL is set when the store can presign links and
	// ExportLinkTTL is positive.
	DownloadURL string     `json:"download_url,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type ParquetEncodeResult struct {
	Data        []byte
	RecordCount int64
}

type parquetRow struct {
	RowNumber   int64  `parquet:"row_number"`
	PayloadJSON string `parquet:"payload_json"`
}

// Export snapshots schema.table as parquet, one JSON-encoded row per record,
// and uploads it. At most the configured export limit is written; Truncated
// reports whether rows were left out.
func (b *Browser) Export(ctx context.Context, schema, table string) (ExportResult, error) {
	if b.archive == nil {
		return ExportResult{}, ErrArchiveDisabled
	}
	schema = schemaOrDefault(schema)
	if err := validateIdentifiers(schema, table); err != nil {
		return ExportResult{}, err
	}
	limit := b.limits.ExportLimit
	if limit <= 0 {
		limit = 100000
	}

	rows, err := b.db.QueryContext(ctx, "SELECT * FROM "+qualified(schema, table)+" LIMIT $1", limit+1)
	if err != nil {
		return ExportResult{}, fmt.Errorf("read %s.%s: %w", schema, table, err)
	}
	_, data, err := executor.ScanRows(rows)
	_ = rows.Close()
	if err != nil {
		return ExportResult{}, fmt.Errorf("read %s.%s: %w", schema, table, err)
	}
	truncated := len(data) > limit
	if truncated {
		data = data[:limit]
	}

	encoded, err := EncodeRowsToParquet(data)
	if err != nil {
		return ExportResult{}, err
	}
	key, err := storage.BuildExportKey(schema, table, b.now())
	if err != nil {
		return ExportResult{}, err
	}
	opts := storage.ExportObject(schema, table, encoded.RecordCount, truncated)
	if _, err := storage.PutBytes(ctx, b.archive, key, encoded.Data, opts); err != nil {
		observability.IncrementArchivedObject("export", "error")
		return ExportResult{}, fmt.Errorf("upload export %s: %w", key, err)
	}
	observability.IncrementArchivedObject("export", "success")
	b.logger.InfoContext(ctx, "table exported",
		slog.String("schema", schema),
		slog.String("table", table),
		slog.String("key", key),
		slog.Int64("rows", encoded.RecordCount),
		slog.Bool("truncated", truncated),
	)
	result := ExportResult{
		Key:       key,
		RowCount:  encoded.RecordCount,
		Bytes:     int64(len(encoded.Data)),
		Truncated: truncated,
	}
	b.presign(ctx, &result)
	return result, nil
}

// presign attaches a download link. The export already succeeded, so a
// signing failure is only logged.
func (b *Browser) presign(ctx context.Context, result *ExportResult) {
	signer, ok := b.archive.(storage.Presigner)
	ttl := b.limits.ExportLinkTTL
	if !ok || ttl <= 0 {
		return
	}
	expiresAt := b.now().Add(ttl).UTC()
	link, err := signer.PresignGet(ctx, result.Key, ttl)
	if err != nil {
		b.logger.WarnContext(ctx, "export download link not created", slog.String("key", result.Key), slog.Any("error", err))
		return
	}
	result.DownloadURL = link
	result.ExpiresAt = &expiresAt
}

// EncodeRowsToParquet writes rows in order. An empty table yields a valid
// file with no records.
func EncodeRowsToParquet(rows []executor.Row) (ParquetEncodeResult, error) {
	records := make([]parquetRow, 0, len(rows))
	for i, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return ParquetEncodeResult{}, fmt.Errorf("encode row %d: %w", i+1, err)
		}
		records = append(records, parquetRow{RowNumber: int64(i + 1), PayloadJSON: string(payload)})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetRow](buf)
	if len(records) > 0 {
		if _, err := writer.Write(records); err != nil {
			return ParquetEncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return ParquetEncodeResult{Data: buf.Bytes(), RecordCount: int64(len(records))}, nil
}
