package bridge

import (
	"errors"
	"fmt"

	"tcp-upload-bridge/internal/model"
)

// ErrResponseTooLarge is returned once the captured upstream response would
// exceed the configured cap.
var ErrResponseTooLarge = errors.New("upstream response exceeds capture limit")

// responseBuffer captures the upstream response body. It only grows while a
// request is in flight and has a single writer.
type responseBuffer struct {
	data    []byte
	limit   int64 // 0 means unlimited
	failure *failureSlot
}

// Write appends p. Zero-length writes are no-ops.
func (r *responseBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if r.limit > 0 && int64(len(r.data))+int64(len(p)) > r.limit {
		err := fmt.Errorf("%w (%d bytes)", ErrResponseTooLarge, r.limit)
		r.failure.record(model.ReasonResourceExhausted, err)
		return 0, err
	}
	r.data = append(r.data, p...)
	return len(p), nil
}

func (r *responseBuffer) Bytes() []byte { return r.data }

func (r *responseBuffer) Len() int { return len(r.data) }

func (r *responseBuffer) String() string { return string(r.data) }

func (r *responseBuffer) release() { r.data = nil }
