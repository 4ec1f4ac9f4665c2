package executor

import (
	"bytes"
	"sync"

	"github.com/SoftKiwiGames/ferry/ferry/ui"
)

// hostWriter prefixes every complete line of command output with the host
// name so parallel hosts stay readable.
type hostWriter struct {
	mu     sync.Mutex
	out    *ui.Output
	host   string
	stderr bool
	buf    bytes.Buffer
}

func newHostWriter(out *ui.Output, host string, stderr bool) *hostWriter {
	return &hostWriter{out: out, host: host, stderr: stderr}
}

func (w *hostWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		w.emit(line[:len(line)-1])
	}
	return len(p), nil
}

// Flush writes a trailing partial line.
func (w *hostWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
}

func (w *hostWriter) emit(line string) {
	if w.stderr {
		w.out.HostStderr(w.host, line)
		return
	}
	w.out.HostLog(w.host, "%s", line)
}
