package platform

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/attend/internal/ir"
)

// MaxSignalSize caps a single signal line.
const MaxSignalSize = 1 << 20

// ErrMalformedSignal marks a line that could not be decoded into a valid
// signal. The stream itself is still readable.
var ErrMalformedSignal = errors.New("malformed signal")

// Reader decodes platform signals from a stream of JSON lines.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), MaxSignalSize)
	return &Reader{scanner: s}
}

// Next returns the next signal. Blank lines are skipped. It returns io.EOF
// once the stream is exhausted.
func (r *Reader) Next() (ir.Signal, error) {
	for r.scanner.Scan() {
		r.line++
		raw := bytes.TrimSpace(r.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var sig ir.Signal
		if err := json.Unmarshal(raw, &sig); err != nil {
			return ir.Signal{}, fmt.Errorf("line %d: %w: %w", r.line, ErrMalformedSignal, err)
		}
		if err := sig.Validate(); err != nil {
			return ir.Signal{}, fmt.Errorf("line %d: %w: %w", r.line, ErrMalformedSignal, err)
		}
		return sig, nil
	}
	if err := r.scanner.Err(); err != nil {
		return ir.Signal{}, fmt.Errorf("read signals: %w", err)
	}
	return ir.Signal{}, io.EOF
}
