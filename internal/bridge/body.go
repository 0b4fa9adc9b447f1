package bridge

import (
	"errors"
	"io"
	"os"
	"sync"

	"tcp-upload-bridge/internal/model"
)

// failureSlot records the first fatal error seen by either transfer direction.
type failureSlot struct {
	mu     sync.Mutex
	reason model.Reason
	err    error
}

func (f *failureSlot) record(reason model.Reason, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reason != model.ReasonOK {
		return
	}
	f.reason = reason
	f.err = err
}

func (f *failureSlot) load() (model.Reason, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reason, f.err
}

// requestBody exposes the client connection as the upload's body source.
type requestBody struct {
	conn         *Conn
	timeoutIsEOF bool
	failure      *failureSlot
	received     int64
}

// Read pulls at most len(p) bytes from the client. A receive timeout either
// ends the stream or aborts the upload, depending on timeoutIsEOF.
func (b *requestBody) Read(p []byte) (int, error) {
	n, err := b.conn.Read(p)
	b.received += int64(n)
	switch {
	case err == nil, errors.Is(err, io.EOF), errors.Is(err, errReadAborted):
		return n, err
	case errors.Is(err, os.ErrDeadlineExceeded):
		if b.timeoutIsEOF {
			return n, io.EOF
		}
		b.failure.record(model.ReasonReceiveTimeout, err)
		return n, err
	default:
		b.failure.record(model.ReasonTransferError, err)
		return n, err
	}
}

// Abort releases a read blocked on the client once the exchange is over.
func (b *requestBody) Abort() {
	b.conn.AbortRead()
}
