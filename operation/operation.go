// Package operation defines the revision operations that the pipeline
// adapter can apply to an image: Rotate, Flip, Resize, Compress.
package operation

import (
	"fmt"

	apperrors "github.com/imgrevise/imgrevise/errors"
)

// Type identifies the kind of operation, matching the IEv1 op_type byte.
type Type uint16

const (
	TypeRotate   Type = 1
	TypeFlip     Type = 2
	TypeResize   Type = 3
	TypeCompress Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeRotate:
		return "rotate"
	case TypeFlip:
		return "flip"
	case TypeResize:
		return "resize"
	case TypeCompress:
		return "compress"
	default:
		return fmt.Sprintf("unknown(%d)", uint16(t))
	}
}

// Operation is a validated, ready-to-apply revision operation.
type Operation interface {
	OpType() Type
	// Validate checks the operation's parameters in isolation, independent
	// of any source image. It does not require I/O.
	Validate() error
	// Params returns a JSON-serializable view of the operation's parameters,
	// stored verbatim on the resulting revision row.
	Params() map[string]interface{}
}

const (
	minResizeDim = 200
	maxResizeDim = 4000
	minQuality   = 10
	maxQuality   = 100
)

// Rotate rotates the image clockwise by Degrees, which must be 90, 180 or 270.
type Rotate struct {
	Degrees int
}

func (r Rotate) OpType() Type { return TypeRotate }

func (r Rotate) Validate() error {
	switch r.Degrees {
	case 90, 180, 270:
		return nil
	default:
		return apperrors.New(apperrors.CategoryValidation, "rotate.validate",
			fmt.Errorf("degrees must be one of 90, 180, 270, got %d", r.Degrees))
	}
}

func (r Rotate) Params() map[string]interface{} {
	return map[string]interface{}{"degrees": r.Degrees}
}

// Flip mirrors the image horizontally, vertically, or both. At least one of
// Horizontal/Vertical must be true.
type Flip struct {
	Horizontal bool
	Vertical   bool
}

func (f Flip) OpType() Type { return TypeFlip }

func (f Flip) Validate() error {
	if !f.Horizontal && !f.Vertical {
		return apperrors.New(apperrors.CategoryValidation, "flip.validate",
			fmt.Errorf("at least one of horizontal or vertical must be set"))
	}
	return nil
}

func (f Flip) Params() map[string]interface{} {
	return map[string]interface{}{"horizontal": f.Horizontal, "vertical": f.Vertical}
}

// Resize scales the image, preserving aspect ratio, to fit inside Width x
// Height; the image is enlarged when the bounds are larger than the source.
// At least one of Width/Height must be present (non-zero); each present
// dimension must be within [200, 4000].
type Resize struct {
	Width  int // 0 = unconstrained on this axis
	Height int // 0 = unconstrained on this axis
}

func (r Resize) OpType() Type { return TypeResize }

func (r Resize) Validate() error {
	if r.Width == 0 && r.Height == 0 {
		return apperrors.New(apperrors.CategoryValidation, "resize.validate",
			fmt.Errorf("at least one of width or height must be set"))
	}
	if r.Width != 0 && (r.Width < minResizeDim || r.Width > maxResizeDim) {
		return apperrors.New(apperrors.CategoryValidation, "resize.validate",
			fmt.Errorf("width must be within [%d, %d], got %d", minResizeDim, maxResizeDim, r.Width))
	}
	if r.Height != 0 && (r.Height < minResizeDim || r.Height > maxResizeDim) {
		return apperrors.New(apperrors.CategoryValidation, "resize.validate",
			fmt.Errorf("height must be within [%d, %d], got %d", minResizeDim, maxResizeDim, r.Height))
	}
	return nil
}

func (r Resize) Params() map[string]interface{} {
	return map[string]interface{}{"width": r.Width, "height": r.Height}
}

// Compress re-encodes the image at the given quality, which must be within
// [10, 100]. PNG sources are transcoded to JPEG on compress, since PNG has
// no quality setting (see vips.Backend.Apply).
type Compress struct {
	Quality int
}

func (c Compress) OpType() Type { return TypeCompress }

func (c Compress) Validate() error {
	if c.Quality < minQuality || c.Quality > maxQuality {
		return apperrors.New(apperrors.CategoryValidation, "compress.validate",
			fmt.Errorf("quality must be within [%d, %d], got %d", minQuality, maxQuality, c.Quality))
	}
	return nil
}

func (c Compress) Params() map[string]interface{} {
	return map[string]interface{}{"quality": c.Quality}
}
