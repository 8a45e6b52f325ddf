package types

import "errors"

// Failure taxonomy of the pipeline. Detector and geometry failures are
// recoverable and absorbed locally with degraded behavior; encoding and
// request validation failures surface as error responses.
var (
	ErrDetectorUnavailable = errors.New("detector unavailable")
	ErrGeometryUnavailable = errors.New("geometry backend unavailable")
	ErrEncodingFailure     = errors.New("encoding failure")
	ErrInvalidRequest      = errors.New("invalid request")
)
