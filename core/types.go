package core

import "time"

// Format identifies an image codec.
type Format string

const (
	FormatJPEG    Format = "jpeg"
	FormatPNG     Format = "png"
	FormatWebP    Format = "webp"
	FormatUnknown Format = "unknown"
)

// Hook is an optional observer invoked around a domain operation
// (ApplyOp, Undo, Ingest, DeriveThumbnail, ...). Implementations must be
// safe for concurrent use.
type Hook interface {
	BeforeOp(opName string)
	AfterOp(opName string, d time.Duration, err error)
}
