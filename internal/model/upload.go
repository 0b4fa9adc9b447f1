// Package model defines shared types for the bridge.
package model

import (
	"context"
	"io"
)

// BodySource is the pull side of a streamed upload.
// Abort unblocks a pending Read once the upstream exchange is over.
type BodySource interface {
	io.Reader
	Abort()
}

// UploadRequest describes one streamed file upload to the upstream.
type UploadRequest struct {
	Ctx       context.Context
	FieldName string
	Filename  string
	Body      BodySource
	Sink      io.Writer
}

// UploadResponse summarizes a completed upstream exchange. The body itself
// has already been written to the request's Sink.
type UploadResponse struct {
	StatusCode int
	BodyBytes  int64
	SentBytes  int64
}
