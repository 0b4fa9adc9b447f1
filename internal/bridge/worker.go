package bridge

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"tcp-upload-bridge/internal/config"
	"tcp-upload-bridge/internal/metrics"
	"tcp-upload-bridge/internal/model"
)

// Replies written to the client when the upload fails.
const (
	MsgUpstreamError  = "Error POSTing to upstream server\n"
	MsgReceiveTimeout = "Error: Receive Timeout. Consider using `netcat -N` or something equivalent.\n"
)

// Uploader performs one streamed multipart upload.
type Uploader interface {
	Upload(req *model.UploadRequest) (*model.UploadResponse, error)
}

// Worker bridges accepted connections to the upstream. A single Worker is
// shared by all connections; it holds only read-only state.
type Worker struct {
	cfg      *config.Config
	uploader Uploader
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewWorker creates a Worker. The metrics parameter is optional.
func NewWorker(cfg *config.Config, up Uploader, logger *slog.Logger, m *metrics.Metrics) *Worker {
	return &Worker{
		cfg:      cfg,
		uploader: up,
		logger:   logger.With("component", "bridge_worker"),
		metrics:  m,
	}
}

// connContext is the per-connection state owned by exactly one Serve call.
type connContext struct {
	conn    *Conn
	failure failureSlot
	body    *requestBody
	resp    *responseBuffer
}

func (w *Worker) newConnContext(conn *Conn) *connContext {
	cc := &connContext{conn: conn}
	cc.body = &requestBody{
		conn:         conn,
		timeoutIsEOF: w.cfg.Listen.TimeoutIsEOF,
		failure:      &cc.failure,
	}
	cc.resp = &responseBuffer{
		limit:   w.cfg.Upstream.MaxResponseBytes,
		failure: &cc.failure,
	}
	return cc
}

// outcome classifies the transfer. A failure recorded by either direction
// wins over the error reported by the uploader.
func (cc *connContext) outcome(uploadErr error) model.Outcome {
	if reason, err := cc.failure.load(); reason != model.ReasonOK {
		return model.Outcome{Reason: reason, Err: err}
	}
	if uploadErr != nil {
		return model.Outcome{Reason: model.ReasonTransferError, Err: uploadErr}
	}
	return model.Outcome{Reason: model.ReasonOK}
}

// release frees the captured response and closes the client connection.
func (cc *connContext) release() error {
	cc.resp.release()
	return cc.conn.Close()
}

// Serve runs one connection to completion: upload, relay, close. Failures
// are logged and relayed to the client; nothing propagates to the caller.
func (w *Worker) Serve(conn *Conn) {
	logger := w.logger.With(
		"conn_id", uuid.NewString(),
		"remote_addr", conn.RemoteAddr().String(),
	)
	defer func() {
		if r := recover(); r != nil {
			logger.Error("connection worker panic", "panic", r)
		}
	}()
	if w.metrics != nil {
		w.metrics.ConnectionsActive.Inc()
		defer w.metrics.ConnectionsActive.Dec()
	}

	cc := w.newConnContext(conn)
	defer func() {
		if err := cc.release(); err != nil {
			logger.Debug("closing client connection", "err", err)
		}
	}()

	logger.Debug("upload started")
	start := time.Now()

	resp, err := w.uploader.Upload(&model.UploadRequest{
		Ctx:       context.Background(),
		FieldName: w.cfg.Upstream.FormField,
		Filename:  w.cfg.Upstream.Filename,
		Body:      cc.body,
		Sink:      cc.resp,
	})
	duration := time.Since(start)
	outcome := cc.outcome(err)

	if w.metrics != nil {
		w.metrics.UploadDuration.Observe(duration.Seconds())
		w.metrics.Outcomes.WithLabelValues(outcome.Reason.String()).Inc()
		w.metrics.BytesUploaded.Add(float64(cc.body.received))
	}

	if outcome.Success() {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		logger.Info("upload complete",
			"status", status,
			"bytes_in", cc.body.received,
			"bytes_out", cc.resp.Len(),
			"duration_ms", duration.Milliseconds(),
		)
	} else {
		logger.Warn("upload failed",
			"reason", outcome.Reason.String(),
			"err", outcome.Err,
			"bytes_in", cc.body.received,
			"duration_ms", duration.Milliseconds(),
		)
	}

	w.relay(logger, cc, outcome)
}

// relay writes the reply for outcome. Send failures are logged, not retried.
func (w *Worker) relay(logger *slog.Logger, cc *connContext, outcome model.Outcome) {
	payload := w.replyFor(cc, outcome)
	n, err := cc.conn.Write(payload)
	if w.metrics != nil {
		w.metrics.BytesRelayed.Add(float64(n))
	}
	if err != nil {
		logger.Error("sending reply", "err", err, "bytes_sent", n, "bytes_total", len(payload))
		if w.metrics != nil {
			w.metrics.RelayErrors.Inc()
		}
	}
}

func (w *Worker) replyFor(cc *connContext, outcome model.Outcome) []byte {
	switch {
	case outcome.Success():
		return cc.resp.Bytes()
	case outcome.Reason == model.ReasonReceiveTimeout && !w.cfg.Listen.TimeoutIsEOF:
		return []byte(MsgReceiveTimeout)
	default:
		return []byte(MsgUpstreamError)
	}
}
