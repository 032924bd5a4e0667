package vips

import (
	"context"
	"fmt"

	govips "github.com/davidbyttow/govips/v2/vips"

	apperrors "github.com/imgrevise/imgrevise/errors"
	"github.com/imgrevise/imgrevise/operation"
)

// AppliedRevision is the output of applying a single operation to a single
// source image: fresh encoded bytes plus the metadata the metadata store
// needs to record against the new revision row.
type AppliedRevision struct {
	Data   []byte
	Mime   string
	Width  int
	Height int
}

// Apply decodes src fresh, performs exactly one operation, and encodes the
// result once — there is no cross-operation chaining inside a single call,
// matching the Revision Service's contract of always working from an
// explicit source blob rather than an in-memory pipeline state.
func (b *Backend) Apply(ctx context.Context, src []byte, sourceMime string, op operation.Operation) (*AppliedRevision, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.New(apperrors.CategoryCodec, "vips.apply", err)
	}
	if err := op.Validate(); err != nil {
		return nil, err
	}

	ref, err := govips.NewImageFromBuffer(src)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryCodec, "vips.apply.decode", err)
	}
	defer ref.Close()

	switch v := op.(type) {
	case operation.Rotate:
		if err := applyRotate(ref, v); err != nil {
			return nil, apperrors.New(apperrors.CategoryCodec, "vips.apply.rotate", err)
		}

	case operation.Flip:
		if err := applyFlip(ref, v); err != nil {
			return nil, apperrors.New(apperrors.CategoryCodec, "vips.apply.flip", err)
		}

	case operation.Resize:
		if err := applyResize(ref, v); err != nil {
			return nil, apperrors.New(apperrors.CategoryCodec, "vips.apply.resize", err)
		}

	case operation.Compress:
		// Compress changes only the export quality; no geometric transform.

	default:
		return nil, apperrors.New(apperrors.CategoryCodec, "vips.apply", fmt.Errorf("unsupported operation %T", op))
	}

	outMime := sourceMime
	quality := b.cfg.DefaultQuality
	if c, ok := op.(operation.Compress); ok {
		// PNG sources are transcoded to JPEG on compress — PNG is lossless
		// and has no quality knob, so "compress" only makes sense once the
		// pixels are re-encoded into a lossy codec.
		outMime = "image/jpeg"
		quality = c.Quality
	}

	data, err := exportByMime(ref, outMime, quality)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryCodec, "vips.apply.encode", err)
	}

	return &AppliedRevision{
		Data:   data,
		Mime:   outMime,
		Width:  ref.Width(),
		Height: ref.Height(),
	}, nil
}

func applyRotate(ref *govips.ImageRef, op operation.Rotate) error {
	var angle govips.Angle
	switch op.Degrees {
	case 90:
		angle = govips.Angle90
	case 180:
		angle = govips.Angle180
	case 270:
		angle = govips.Angle270
	default:
		return fmt.Errorf("unsupported rotate degrees %d", op.Degrees)
	}
	return ref.Rotate(angle)
}

// applyFlip applies horizontal and vertical flips as two independent
// operations when both are requested — a 180 degree rotation produces the
// same visible pixels but is not bit-identical to two flips, and the
// revision history must record exactly what the caller asked for.
func applyFlip(ref *govips.ImageRef, op operation.Flip) error {
	if op.Horizontal {
		if err := ref.Flip(govips.DirectionHorizontal); err != nil {
			return err
		}
	}
	if op.Vertical {
		if err := ref.Flip(govips.DirectionVertical); err != nil {
			return err
		}
	}
	return nil
}

func applyResize(ref *govips.ImageRef, op operation.Resize) error {
	dstW, dstH := fitInside(ref.Width(), ref.Height(), op.Width, op.Height)
	if dstW == ref.Width() && dstH == ref.Height() {
		return nil
	}
	scale := float64(dstW) / float64(ref.Width())
	return ref.Resize(scale, govips.KernelLanczos3)
}

// fitInside computes output dimensions that fit within boundW x boundH while
// preserving aspect ratio, enlarging the source when the requested bound is
// larger than it — spec.md §4.2 allows resize to enlarge within the
// [200,4000] bound validated by operation.Resize.Validate. A zero bound
// means that axis is unconstrained.
func fitInside(srcW, srcH, boundW, boundH int) (int, int) {
	scaleW := float64(boundW) / float64(srcW)
	scaleH := float64(boundH) / float64(srcH)
	scale := 1.0
	switch {
	case boundW > 0 && boundH > 0:
		scale = scaleW
		if scaleH < scale {
			scale = scaleH
		}
	case boundW > 0:
		scale = scaleW
	case boundH > 0:
		scale = scaleH
	}

	return int(float64(srcW) * scale), int(float64(srcH) * scale)
}

// Thumbnail derives a fit-inside WebP preview no larger than maxEdge on its
// longest side, used by the Image Service's thumbnail derivation and cached
// by the Cache component.
func (b *Backend) Thumbnail(ctx context.Context, src []byte, maxEdge, quality int) (*AppliedRevision, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.New(apperrors.CategoryCodec, "vips.thumbnail", err)
	}

	ref, err := govips.NewThumbnailFromBuffer(src, maxEdge, maxEdge, govips.InterestingNone)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryCodec, "vips.thumbnail.decode", err)
	}
	defer ref.Close()

	ep := govips.NewWebpExportParams()
	ep.Quality = quality
	data, _, err := ref.ExportWebp(ep)
	if err != nil {
		return nil, apperrors.New(apperrors.CategoryCodec, "vips.thumbnail.encode", err)
	}

	return &AppliedRevision{
		Data:   data,
		Mime:   "image/webp",
		Width:  ref.Width(),
		Height: ref.Height(),
	}, nil
}

func exportByMime(ref *govips.ImageRef, mime string, quality int) ([]byte, error) {
	switch mime {
	case "image/jpeg":
		ep := govips.NewJpegExportParams()
		ep.Quality = quality
		buf, _, err := ref.ExportJpeg(ep)
		return buf, err

	case "image/png":
		ep := govips.NewPngExportParams()
		buf, _, err := ref.ExportPng(ep)
		return buf, err

	case "image/webp":
		ep := govips.NewWebpExportParams()
		ep.Quality = quality
		buf, _, err := ref.ExportWebp(ep)
		return buf, err

	default:
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFormat, mime)
	}
}
