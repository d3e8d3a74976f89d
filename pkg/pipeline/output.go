package pipeline

import (
	"bytes"
	"io"
	"sync"
)

// prefixWriter tags each output line with the job it came from so interleaved
// parallel output stays readable. Writes to the underlying writer are
// serialized per destination.
type prefixWriter struct {
	mu     sync.Mutex
	w      io.Writer
	prefix []byte
	buf    bytes.Buffer
}

func newPrefixWriter(w io.Writer, jobName string) *prefixWriter {
	return &prefixWriter{w: w, prefix: []byte("[" + jobName + "] ")}
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(b)
	for {
		line, err := p.buf.ReadBytes('\n')
		if err != nil {
			// Partial line, keep it buffered until the newline arrives.
			p.buf.Write(line)
			break
		}
		if err := p.writeLine(line); err != nil {
			return len(b), err
		}
	}
	return len(b), nil
}

// Flush writes any buffered partial line, terminating it with a newline.
func (p *prefixWriter) Flush() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.buf.Len() == 0 {
		return nil
	}
	line := append(p.buf.Bytes(), '\n')
	p.buf.Reset()
	return p.writeLine(line)
}

func (p *prefixWriter) writeLine(line []byte) error {
	if _, err := p.w.Write(p.prefix); err != nil {
		return err
	}
	_, err := p.w.Write(line)
	return err
}
