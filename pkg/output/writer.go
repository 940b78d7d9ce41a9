package output

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// EventWriter emits registry events as records.
//
// Implementations must be safe for concurrent use from multiple
// goroutines. Each Write* method emits one complete record.
type EventWriter interface {
	// WriteSnapshot emits a full registry snapshot.
	WriteSnapshot(ctx context.Context, doc *StatusDocument) error

	// WriteError emits an error record.
	WriteError(ctx context.Context, err *ErrorRecord) error

	// Close flushes any buffered output and releases resources.
	Close() error
}

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// Writes are serialized with a mutex so lines never interleave.
type JSONLWriter struct {
	w    io.Writer
	host string
	now  func() time.Time
	mu   sync.Mutex

	closed bool
}

// NewJSONLWriter creates a JSONL writer stamping records with host.
func NewJSONLWriter(w io.Writer, host string) *JSONLWriter {
	return &JSONLWriter{
		w:    w,
		host: host,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// WriteSnapshot emits a snapshot record.
func (jw *JSONLWriter) WriteSnapshot(ctx context.Context, doc *StatusDocument) error {
	return jw.writeRecord(ctx, TypeSnapshot, doc)
}

// WriteError emits an error record.
func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.writeRecord(ctx, TypeError, err)
}

// Close marks the writer as closed. The underlying writer is NOT closed.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	dataBytes, err := json.Marshal(data)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	record := Record{
		Type: recordType,
		TS:   jw.now(),
		Host: jw.host,
		Data: dataBytes,
	}
	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// io.Writer may return n < len(p) with a nil error; a silent short
	// write would corrupt the line.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}
	return nil
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}

var _ EventWriter = (*JSONLWriter)(nil)
