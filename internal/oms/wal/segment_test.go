package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testOptions(dir string) Options {
	return Options{
		Dir:           dir,
		SegmentBytes:  1 << 20,
		BatchSize:     4,
		FlushInterval: time.Hour, // only explicit flushes in tests
	}
}

func record(orderID, version uint64, payload string) Record {
	return Record{Kind: RecordCreate, OrderID: orderID, Version: version, Payload: []byte(payload)}
}

func TestAppendFlushRead(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(testOptions(dir), zap.NewNop())
	require.NoError(t, err)

	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, w.Append(record(i, 1, "payload")))
	}
	require.NoError(t, w.Close())

	records, err := NewReader(dir).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 10)
	for i, rec := range records {
		assert.Equal(t, uint64(i+1), rec.OrderID)
	}
}

func TestBatchFlushesOnSize(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	w, err := NewWriter(opts, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	// One short of the batch size: nothing durable yet.
	for i := uint64(1); i < uint64(opts.BatchSize); i++ {
		require.NoError(t, w.Append(record(i, 1, "x")))
	}
	records, err := NewReader(dir).ReadAll()
	require.NoError(t, err)
	assert.Empty(t, records)

	// The batch-filling append flushes.
	require.NoError(t, w.Append(record(uint64(opts.BatchSize), 1, "x")))
	records, err = NewReader(dir).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, opts.BatchSize)
}

// A corrupted record truncates replay at that boundary, recovering
// everything before it, per spec §6 "Durable log format".
func TestCorruptRecordTruncatesSegment(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(testOptions(dir), zap.NewNop())
	require.NoError(t, err)
	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, w.Append(record(i, 1, "payload")))
	}
	require.NoError(t, w.Close())

	// Flip a byte in the last record's body.
	path := filepath.Join(dir, "segment-00000000.wal")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	records, err := NewReader(dir).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestSegmentRotation(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	opts.SegmentBytes = 256 // force quick rollover
	opts.BatchSize = 1
	w, err := NewWriter(opts, zap.NewNop())
	require.NoError(t, err)

	for i := uint64(1); i <= 20; i++ {
		require.NoError(t, w.Append(record(i, 1, "some payload that occupies space")))
	}
	require.NoError(t, w.Close())

	// Closed segments compress asynchronously; replay reads .wal and
	// .wal.zst alike, and ordering survives rotation.
	require.Eventually(t, func() bool {
		records, err := NewReader(dir).ReadAll()
		if err != nil || len(records) != 20 {
			return false
		}
		for i, rec := range records {
			if rec.OrderID != uint64(i+1) {
				return false
			}
		}
		return true
	}, 5*time.Second, 50*time.Millisecond)
}

func TestFlushIntervalTimer(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions(dir)
	opts.FlushInterval = 20 * time.Millisecond
	w, err := NewWriter(opts, zap.NewNop())
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Append(record(1, 1, "timed")))

	require.Eventually(t, func() bool {
		records, err := NewReader(dir).ReadAll()
		return err == nil && len(records) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	type payload struct {
		A int
		B string
	}
	body, err := Encode(payload{A: 7, B: "x"})
	require.NoError(t, err)

	var out payload
	require.NoError(t, Decode(body, &out))
	assert.Equal(t, payload{A: 7, B: "x"}, out)
}
