// Package storage describes the object store that archives deployment
// scripts and table exports, and builds the keys they are written under.
package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
	"time"
)

var ErrObjectNotFound = errors.New("object not found")

const (
	ContentTypeSQL     = "application/sql"
	ContentTypeParquet = "application/vnd.apache.parquet"
)

// Metadata keys attached to archived objects. S3 stores them as
// x-amz-meta-* headers.
const (
	MetaKind      = "sqlgpt-kind"
	MetaRevision  = "sqlgpt-revision"
	MetaOperation = "sqlgpt-operation"
	MetaMigration = "sqlgpt-migration"
	MetaSchema    = "sqlgpt-schema"
	MetaTable     = "sqlgpt-table"
	MetaRows      = "sqlgpt-rows"
	MetaTruncated = "sqlgpt-truncated"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	Metadata     map[string]string
}

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}

// Presigner is implemented by stores that can hand out time-limited
// download links.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// PutBytes stores data under key in one request.
func PutBytes(ctx context.Context, store ObjectStore, key string, data []byte, opts PutOptions) (ObjectInfo, error) {
	return store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), opts)
}

// ScriptObject is the put options for an archived deployment script.
func ScriptObject(revision, operation, migration string) PutOptions {
	return PutOptions{
		ContentType: ContentTypeSQL,
		Metadata: map[string]string{
			MetaKind:      "script",
			MetaRevision:  revision,
			MetaOperation: operation,
			MetaMigration: migration,
		},
	}
}

// ExportObject is the put options for a parquet table export.
func ExportObject(schema, table string, rows int64, truncated bool) PutOptions {
	return PutOptions{
		ContentType: ContentTypeParquet,
		Metadata: map[string]string{
			MetaKind:      "export",
			MetaSchema:    schema,
			MetaTable:     table,
			MetaRows:      strconv.FormatInt(rows, 10),
			MetaTruncated: strconv.FormatBool(truncated),
		},
	}
}
