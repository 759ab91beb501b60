// internal/sink/trace.go
package sink

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
)

// TraceHeader is the first line of every trace file
const TraceHeader = "index,raw,filtered\n"

// TraceRecorder writes one CSV row per sample so a session can be inspected
// offline. It implements session.SampleRecorder.
type TraceRecorder struct {
	closer io.Closer
	writer *bufio.Writer
	buf    []byte
}

// NewTraceRecorder writes the header to w.
func NewTraceRecorder(w io.Writer) (*TraceRecorder, error) {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(TraceHeader); err != nil {
		return nil, fmt.Errorf("write trace header: %w", err)
	}
	return &TraceRecorder{writer: bw}, nil
}

// CreateTrace creates (or truncates) a trace file.
func CreateTrace(path string) (*TraceRecorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace: %w", err)
	}
	t, err := NewTraceRecorder(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	t.closer = f
	return t, nil
}

// Record appends one row
func (t *TraceRecorder) Record(index int, raw, filtered float64) error {
	b := t.buf[:0]
	b = strconv.AppendInt(b, int64(index), 10)
	b = append(b, ',')
	b = strconv.AppendFloat(b, raw, 'g', -1, 64)
	b = append(b, ',')
	b = strconv.AppendFloat(b, filtered, 'g', -1, 64)
	b = append(b, '\n')
	t.buf = b

	_, err := t.writer.Write(b)
	return err
}

// Close flushes buffered rows and closes the file, if any
func (t *TraceRecorder) Close() error {
	err := t.writer.Flush()
	if t.closer != nil {
		if cerr := t.closer.Close(); err == nil {
			err = cerr
		}
		t.closer = nil
	}
	return err
}
