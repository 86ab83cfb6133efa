package nvstore

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// newTestStore creates a Store on an in-memory database with the nvstore
// schema applied.
func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening in-memory database: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	// Mirrors migrations/20260205_120000_nvstore.up.sql
	_, err = db.Exec(`
		CREATE TABLE nvstore (
			namespace  TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (namespace, key)
		) STRICT
	`)
	if err != nil {
		t.Fatalf("creating nvstore table: %v", err)
	}

	return New(db)
}

func TestPutGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "net", "last_ssid", []byte("HomeNet")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, "net", "last_ssid")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "HomeNet" {
		t.Errorf("Get() = %q, want %q", got, "HomeNet")
	}
}

func TestPut_Overwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "net", "last_ssid", []byte("OldNet")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, "net", "last_ssid", []byte("NewNet")); err != nil {
		t.Fatalf("second Put() error = %v", err)
	}

	got, err := store.Get(ctx, "net", "last_ssid")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "NewNet" {
		t.Errorf("Get() = %q, want %q", got, "NewNet")
	}
}

func TestGet_Missing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "net", "last_ssid")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestNamespaceIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "net", "head", []byte("net-value")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Put(ctx, "obuf", "head", []byte("obuf-value")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, "obuf", "head")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != "obuf-value" {
		t.Errorf("Get(obuf/head) = %q, want %q", got, "obuf-value")
	}
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "obuf", "s4", []byte("sample")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if err := store.Delete(ctx, "obuf", "s4"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if _, err := store.Get(ctx, "obuf", "s4"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrNotFound", err)
	}

	// Deleting a missing key is not an error
	if err := store.Delete(ctx, "obuf", "s4"); err != nil {
		t.Errorf("Delete() of missing key error = %v", err)
	}
}

func TestDeleteNamespace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"last_ssid", "last_bssid", "bssid_fail"} {
		if err := store.Put(ctx, "net", key, []byte("x")); err != nil {
			t.Fatalf("Put(net/%s) error = %v", key, err)
		}
	}
	if err := store.Put(ctx, "obuf", "head", []byte("y")); err != nil {
		t.Fatalf("Put(obuf/head) error = %v", err)
	}

	if err := store.DeleteNamespace(ctx, "net"); err != nil {
		t.Fatalf("DeleteNamespace() error = %v", err)
	}

	for _, key := range []string{"last_ssid", "last_bssid", "bssid_fail"} {
		if _, err := store.Get(ctx, "net", key); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(net/%s) error = %v, want ErrNotFound", key, err)
		}
	}

	// Other namespaces untouched
	if _, err := store.Get(ctx, "obuf", "head"); err != nil {
		t.Errorf("Get(obuf/head) error = %v, want nil", err)
	}
}

func TestRecordRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payload := []byte(`{"ts":1700000000,"temp":21.5,"hum":48.2}`)
	if err := store.PutRecord(ctx, "obuf", "s0", payload); err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}

	got, err := store.GetRecord(ctx, "obuf", "s0")
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("GetRecord() = %q, want %q", got, payload)
	}
}

func TestGetRecord_Corrupt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// Flip one payload byte behind the envelope's back; Put skips the
	// encoder, so the stored value is exactly these bytes.
	value := encodeRecord([]byte("payload"))
	value[2] ^= 0xFF
	if err := store.Put(ctx, "obuf", "s1", value); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if _, err := store.GetRecord(ctx, "obuf", "s1"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("GetRecord() error = %v, want ErrCorrupt", err)
	}
}

func TestGetRecord_Truncated(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "obuf", "s2", []byte{0x01, 0x02}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	if _, err := store.GetRecord(ctx, "obuf", "s2"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("GetRecord() of truncated value error = %v, want ErrCorrupt", err)
	}
}

func TestGetRecord_Missing(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetRecord(context.Background(), "obuf", "s3")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRecord() error = %v, want ErrNotFound", err)
	}
}

func TestUint64RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	tests := []uint64{0, 1, 96, 1<<32 + 7, ^uint64(0)}
	for _, want := range tests {
		if err := store.PutUint64(ctx, "obuf", "head", want); err != nil {
			t.Fatalf("PutUint64(%d) error = %v", want, err)
		}
		got, err := store.GetUint64(ctx, "obuf", "head")
		if err != nil {
			t.Fatalf("GetUint64() error = %v", err)
		}
		if got != want {
			t.Errorf("GetUint64() = %d, want %d", got, want)
		}
	}
}

func TestGetUint64_WrongWidth(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutRecord(ctx, "obuf", "tail", []byte("short")); err != nil {
		t.Fatalf("PutRecord() error = %v", err)
	}

	if _, err := store.GetUint64(ctx, "obuf", "tail"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("GetUint64() error = %v, want ErrCorrupt", err)
	}
}

func TestStringRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.PutString(ctx, "net", "last_ssid", "HomeNet"); err != nil {
		t.Fatalf("PutString() error = %v", err)
	}

	got, err := store.GetString(ctx, "net", "last_ssid")
	if err != nil {
		t.Fatalf("GetString() error = %v", err)
	}
	if got != "HomeNet" {
		t.Errorf("GetString() = %q, want %q", got, "HomeNet")
	}
}

func TestValidateKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Put(ctx, "", "key", []byte("v")); err == nil {
		t.Error("Put() with empty namespace expected error, got nil")
	}
	if err := store.Put(ctx, "ns", "", []byte("v")); err == nil {
		t.Error("Put() with empty key expected error, got nil")
	}
	if _, err := store.Get(ctx, "", "key"); err == nil {
		t.Error("Get() with empty namespace expected error, got nil")
	}
	if err := store.DeleteNamespace(ctx, ""); err == nil {
		t.Error("DeleteNamespace() with empty namespace expected error, got nil")
	}
}

// ===== Record envelope =====

// appendChecksum appends a valid CRC32 trailer to an arbitrary body,
// letting tests craft envelopes the encoder would never produce.
func appendChecksum(body []byte) []byte {
	return binary.BigEndian.AppendUint32(body, crc32.ChecksumIEEE(body))
}

func TestDecodeRecord(t *testing.T) {
	tests := []struct {
		name    string
		value   []byte
		want    []byte
		wantErr bool
	}{
		{
			name:  "valid round trip",
			value: encodeRecord([]byte("hello")),
			want:  []byte("hello"),
		},
		{
			name:  "empty payload",
			value: encodeRecord(nil),
			want:  []byte{},
		},
		{
			name:    "too short",
			value:   []byte{0x01, 0x02},
			wantErr: true,
		},
		{
			name:    "empty value",
			value:   nil,
			wantErr: true,
		},
		{
			name: "flipped payload byte",
			value: func() []byte {
				v := encodeRecord([]byte("hello"))
				v[2] ^= 0xFF
				return v
			}(),
			wantErr: true,
		},
		{
			name: "flipped checksum byte",
			value: func() []byte {
				v := encodeRecord([]byte("hello"))
				v[len(v)-1] ^= 0xFF
				return v
			}(),
			wantErr: true,
		},
		{
			name: "unknown version",
			value: func() []byte {
				// Re-checksum so only the version is wrong.
				v := append([]byte{9}, []byte("hello")...)
				return appendChecksum(v)
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeRecord(tt.value)
			if tt.wantErr {
				if !errors.Is(err, ErrCorrupt) {
					t.Errorf("decodeRecord() error = %v, want ErrCorrupt", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeRecord() error = %v", err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Errorf("decodeRecord() = %q, want %q", got, tt.want)
			}
		})
	}
}
