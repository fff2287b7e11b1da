package storage

import (
	"context"
	"io"
	"testing"
	"time"
)

func TestBuildScriptKey(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 23, 5, 0, 0, time.FixedZone("x", -5*3600))
	key, err := BuildScriptKey("20260219230500", "create_table_users-orders", ts)
	if err != nil {
		t.Fatalf("BuildScriptKey() error = %v", err)
	}
	want := "scripts/2026/02/20/20260219230500_create_table_users-orders.sql"
	if key != want {
		t.Fatalf("BuildScriptKey() = %q, want %q", key, want)
	}
}

func TestBuildScriptKeySanitizesName(t *testing.T) {
	ts := time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)
	key, err := BuildScriptKey("20260301000000", "create_table_../etc passwd", ts)
	if err != nil {
		t.Fatalf("BuildScriptKey() error = %v", err)
	}
	want := "scripts/2026/03/01/20260301000000_create_table_..-etc-passwd.sql"
	if key != want {
		t.Fatalf("BuildScriptKey() = %q, want %q", key, want)
	}
}

func TestBuildScriptKeyRejectsBadInput(t *testing.T) {
	if _, err := BuildScriptKey("2026", "create_table_users", time.Now()); err == nil {
		t.Fatal("expected invalid revision error")
	}
	if _, err := BuildScriptKey("20260301000000", " ../ ", time.Now()); err == nil {
		t.Fatal("expected invalid name error")
	}
}

func TestBuildExportKey(t *testing.T) {
	ts := time.Date(2026, time.February, 19, 4, 5, 6, 0, time.UTC)
	key, err := BuildExportKey("public", "Order Items", ts)
	if err != nil {
		t.Fatalf("BuildExportKey() error = %v", err)
	}
	want := "exports/public/Order-Items/date=2026-02-19/Order-Items-20260219T040506Z.parquet"
	if key != want {
		t.Fatalf("BuildExportKey() = %q, want %q", key, want)
	}
}

type recordingStore struct {
	ObjectStore
	key  string
	body string
	size int64
	opts PutOptions
}

func (r *recordingStore) Put(_ context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return ObjectInfo{}, err
	}
	r.key, r.body, r.size, r.opts = key, string(data), size, opts
	return ObjectInfo{Key: key, Size: size}, nil
}

func TestPutBytes(t *testing.T) {
	store := &recordingStore{}
	opts := ScriptObject("20260219120000", "create_table", "create_table_users")
	info, err := PutBytes(context.Background(), store, "scripts/a.sql", []byte("BEGIN;"), opts)
	if err != nil {
		t.Fatalf("PutBytes() error = %v", err)
	}
	if info.Size != 6 || store.size != 6 || store.body != "BEGIN;" || store.opts.ContentType != ContentTypeSQL {
		t.Fatalf("recorded = %+v", store)
	}
	if store.opts.Metadata[MetaRevision] != "20260219120000" || store.opts.Metadata[MetaKind] != "script" {
		t.Fatalf("metadata = %v", store.opts.Metadata)
	}
}

func TestExportObject(t *testing.T) {
	opts := ExportObject("public", "users", 42, true)
	if opts.ContentType != ContentTypeParquet {
		t.Fatalf("content type = %q", opts.ContentType)
	}
	want := map[string]string{
		MetaKind:      "export",
		MetaSchema:    "public",
		MetaTable:     "users",
		MetaRows:      "42",
		MetaTruncated: "true",
	}
	for key, value := range want {
		if opts.Metadata[key] != value {
			t.Fatalf("metadata[%s] = %q, want %q", key, opts.Metadata[key], value)
		}
	}
}
