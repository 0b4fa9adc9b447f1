// Package client provides the upstream HTTP client that performs streamed
// multipart uploads.
package client

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"tcp-upload-bridge/internal/config"
	"tcp-upload-bridge/internal/metrics"
	"tcp-upload-bridge/internal/model"
)

const userAgent = "tcp-upload-bridge/1.0"

// errExchangeDone closes the request pipe once the upstream exchange has
// finished, so a body writer still running stops at its next write.
var errExchangeDone = errors.New("upstream exchange finished")

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

// UploadClient streams multipart file uploads to the upstream URL.
type UploadClient struct {
	httpClient *http.Client
	url        string
	chunkSize  int
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUploadClient creates an UploadClient with connection pooling and timeouts.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUploadClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *UploadClient {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	chunk := cfg.Upstream.ChunkBytes
	if chunk <= 0 {
		chunk = config.DefaultChunkBytes
	}
	return &UploadClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		},
		url:       cfg.Upstream.URL,
		chunkSize: chunk,
		logger:    logger.With("component", "upload_client"),
		metrics:   m,
	}
}

// Upload POSTs req.Body as the single file part of a multipart/form-data
// request using chunked transfer encoding, and copies the response body into
// req.Sink as it arrives. Any completed HTTP exchange is a success regardless
// of status code.
//
// Upload does not return until the body writer has stopped, so the caller
// owns req.Body again afterwards.
func (c *UploadClient) Upload(req *model.UploadRequest) (*model.UploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	type writeResult struct {
		n   int64
		err error
	}
	done := make(chan writeResult, 1)
	go func() {
		n, err := c.writeBody(mw, req)
		_ = pw.CloseWithError(err)
		done <- writeResult{n: n, err: err}
	}()

	var sent writeResult
	finish := func() {
		_ = pr.CloseWithError(errExchangeDone)
		req.Body.Abort()
		sent = <-done
	}

	httpReq, err := http.NewRequestWithContext(req.Ctx, http.MethodPost, c.url, pr)
	if err != nil {
		finish()
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.ContentLength = -1
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("User-Agent", userAgent)

	c.logger.Debug("upstream request", "url", c.url, "field", req.FieldName)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		finish()
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(metrics.StatusClass(resp.StatusCode)).Inc()
	}

	n, err := io.Copy(req.Sink, resp.Body)
	finish()
	if err != nil {
		return nil, fmt.Errorf("read upstream response: %w", err)
	}

	c.logger.Debug("upstream response",
		"status", resp.StatusCode,
		"bytes_in", n,
		"bytes_out", sent.n,
	)

	return &model.UploadResponse{
		StatusCode: resp.StatusCode,
		BodyBytes:  n,
		SentBytes:  sent.n,
	}, nil
}

// CloseIdleConnections closes pooled upstream connections.
func (c *UploadClient) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}

// writeBody encodes the single file part, pulling from the body source one
// chunk at a time.
func (c *UploadClient) writeBody(mw *multipart.Writer, req *model.UploadRequest) (int64, error) {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`,
		quoteEscaper.Replace(req.FieldName), quoteEscaper.Replace(req.Filename)))
	h.Set("Content-Type", "application/octet-stream")

	part, err := mw.CreatePart(h)
	if err != nil {
		return 0, fmt.Errorf("create part: %w", err)
	}
	n, err := io.CopyBuffer(part, req.Body, make([]byte, c.chunkSize))
	if err != nil {
		return n, fmt.Errorf("stream body: %w", err)
	}
	if err := mw.Close(); err != nil {
		return n, fmt.Errorf("close multipart: %w", err)
	}
	return n, nil
}
