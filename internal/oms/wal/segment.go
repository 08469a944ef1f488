// Package wal implements the OMS's segmented, checksummed write-ahead
// log: every order creation, status change, fill, and amendment is
// appended here before in-memory state becomes visible to readers,
// per spec §4.E. Records are batched and flushed on whichever of a
// size threshold or a flush interval fires first, the same batching
// discipline as the teacher's batched event store.
package wal

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"

	trerr "github.com/shrivenq/tradecore/pkg/errors"
)

// Encode gob-encodes payload for embedding as a Record's Payload.
func Encode(payload any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode gob-decodes a Record's Payload into out (a pointer).
func Decode(payload []byte, out any) error {
	return gob.NewDecoder(bytes.NewReader(payload)).Decode(out)
}

// RecordKind identifies the mutation a Record represents.
type RecordKind uint8

const (
	RecordCreate RecordKind = iota
	RecordStatusChange
	RecordFill
	RecordAmendment
)

// Record is one durable mutation, carrying the order id and version it
// produced so recovery can observe a strictly increasing
// (order_id, version) sequence per order.
type Record struct {
	Kind    RecordKind
	OrderID uint64
	Version uint64
	Payload []byte // gob-encoded oms.Order, Fill, or Amendment
}

// Options configures segment sizing and flush cadence.
type Options struct {
	Dir           string
	SegmentBytes  int64
	BatchSize     int
	FlushInterval time.Duration
}

func DefaultOptions(dir string) Options {
	return Options{
		Dir:           dir,
		SegmentBytes:  64 << 20,
		BatchSize:     100,
		FlushInterval: 50 * time.Millisecond,
	}
}

// Writer batches Records and appends them to the active segment file,
// rotating to a new segment once SegmentBytes is exceeded. Closed
// segments are compressed with zstd; the active segment is not, so a
// crash mid-write never leaves a half-written compressed frame.
type Writer struct {
	opts   Options
	logger *zap.Logger

	mu      sync.Mutex
	pending []Record
	file    *os.File
	buf     *bufio.Writer
	written int64
	segNum  int

	flushTimer *time.Timer
	closed     bool
}

func NewWriter(opts Options, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, trerr.Wrap(err, trerr.ErrLogIO, "creating wal directory")
	}
	w := &Writer{opts: opts, logger: logger}
	if err := w.rotate(); err != nil {
		return nil, err
	}
	w.flushTimer = time.AfterFunc(opts.FlushInterval, w.onTimer)
	return w, nil
}

func (w *Writer) segmentPath(n int) string {
	return filepath.Join(w.opts.Dir, "segment-"+padSegmentNumber(n)+".wal")
}

// padSegmentNumber zero-pads so lexical and chronological segment
// ordering agree, per segmentPathsInOrder.
func padSegmentNumber(n int) string {
	s := strconv.Itoa(n)
	for len(s) < 8 {
		s = "0" + s
	}
	return s
}

func (w *Writer) rotate() error {
	if w.file != nil {
		if err := w.flushLocked(); err != nil {
			return err
		}
		if err := w.buf.Flush(); err != nil {
			return trerr.Wrap(err, trerr.ErrLogIO, "flushing segment before rotation")
		}
		if err := w.file.Close(); err != nil {
			return trerr.Wrap(err, trerr.ErrLogIO, "closing segment")
		}
		go compressClosedSegment(w.file.Name(), w.logger)
		w.segNum++
	}
	f, err := os.OpenFile(w.segmentPath(w.segNum), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return trerr.Wrap(err, trerr.ErrLogIO, "opening wal segment")
	}
	w.file = f
	w.buf = bufio.NewWriter(f)
	w.written = 0
	return nil
}

// Append enqueues rec for the next batch flush, flushing immediately
// if the batch is already full.
func (w *Writer) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, rec)
	if len(w.pending) >= w.opts.BatchSize {
		return w.flushLocked()
	}
	return nil
}

func (w *Writer) onTimer() {
	w.mu.Lock()
	_ = w.flushLocked()
	closed := w.closed
	w.mu.Unlock()
	if !closed {
		w.flushTimer.Reset(w.opts.FlushInterval)
	}
}

// flushLocked serializes pending records with a CRC32 IEEE checksum per
// record and writes them to the active segment. Caller holds w.mu.
func (w *Writer) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}
	for _, rec := range w.pending {
		var body bytes.Buffer
		if err := gob.NewEncoder(&body).Encode(rec); err != nil {
			return trerr.Wrap(err, trerr.ErrLogIO, "encoding wal record")
		}
		sum := crc32.ChecksumIEEE(body.Bytes())

		var header [8]byte
		binary.BigEndian.PutUint32(header[0:4], uint32(body.Len()))
		binary.BigEndian.PutUint32(header[4:8], sum)
		if _, err := w.buf.Write(header[:]); err != nil {
			return trerr.Wrap(err, trerr.ErrLogIO, "writing wal record header")
		}
		if _, err := w.buf.Write(body.Bytes()); err != nil {
			return trerr.Wrap(err, trerr.ErrLogIO, "writing wal record body")
		}
		w.written += int64(len(header) + body.Len())
	}
	if err := w.buf.Flush(); err != nil {
		return trerr.Wrap(err, trerr.ErrLogIO, "flushing wal buffer")
	}
	w.pending = w.pending[:0]

	if w.written >= w.opts.SegmentBytes {
		return w.rotate()
	}
	return nil
}

// Flush forces pending records to disk immediately.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

// Close flushes and closes the active segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	w.flushTimer.Stop()
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.buf.Flush(); err != nil {
		return trerr.Wrap(err, trerr.ErrLogIO, "flushing segment on close")
	}
	return w.file.Close()
}

// compressClosedSegment rewrites a rotated-out segment as a zstd frame
// and removes the uncompressed original; only closed segments are
// ever compressed since a crash mid-compress cannot corrupt the record
// the active writer is appending to.
func compressClosedSegment(path string, logger *zap.Logger) {
	src, err := os.Open(path)
	if err != nil {
		logger.Warn("wal: could not open segment for compression", zap.Error(err))
		return
	}
	defer src.Close()

	dstPath := path + ".zst"
	dst, err := os.OpenFile(dstPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		logger.Warn("wal: could not create compressed segment", zap.Error(err))
		return
	}
	defer dst.Close()

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		logger.Warn("wal: could not create zstd encoder", zap.Error(err))
		return
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		logger.Warn("wal: compression failed", zap.Error(err))
		return
	}
	if err := enc.Close(); err != nil {
		logger.Warn("wal: zstd encoder close failed", zap.Error(err))
		return
	}
	if err := os.Remove(path); err != nil {
		logger.Warn("wal: could not remove uncompressed segment", zap.Error(err))
	}
}

// Reader replays records from every segment in Dir, oldest first, for
// recovery. It transparently decompresses .wal.zst segments.
type Reader struct {
	dir string
}

func NewReader(dir string) *Reader {
	return &Reader{dir: dir}
}

// ReadAll returns every record across every segment in creation order.
func (r *Reader) ReadAll() ([]Record, error) {
	paths, err := segmentPathsInOrder(r.dir)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, p := range paths {
		recs, err := readSegment(p)
		if err != nil {
			return nil, trerr.Wrap(err, trerr.ErrLogIO, "reading wal segment "+p)
		}
		out = append(out, recs...)
	}
	return out, nil
}

func segmentPathsInOrder(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	// Segment file names are zero-padded by rotation order, so a plain
	// lexical sort is chronological.
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = filepath.Join(dir, n)
	}
	return out, nil
}

func readSegment(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if filepath.Ext(path) == ".zst" {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}

	br := bufio.NewReader(r)
	var out []Record
	for {
		var header [8]byte
		if _, err := io.ReadFull(br, header[:]); err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		length := binary.BigEndian.Uint32(header[0:4])
		wantSum := binary.BigEndian.Uint32(header[4:8])

		body := make([]byte, length)
		if _, err := io.ReadFull(br, body); err != nil {
			return nil, err
		}
		if crc32.ChecksumIEEE(body) != wantSum {
			// Per spec §6: a bad CRC truncates the segment at this
			// boundary, best-effort recovering every record before it.
			break
		}
		var rec Record
		if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&rec); err != nil {
			break
		}
		out = append(out, rec)
	}
	return out, nil
}
