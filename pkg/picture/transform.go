package picture

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	// Registers webp decoder, common for search results
	_ "golang.org/x/image/webp"
)

const (
	JPEGQuality = 75

	// Largest source image accepted, in pixels
	MaxPixels = 89_478_485
)

var ErrDecode = fmt.Errorf("failed to decode image")

// Sharpening kernel, normalized by its sum (16)
var sharpenKernel = [9]float64{
	-2, -2, -2,
	-2, 32, -2,
	-2, -2, -2,
}

// Decode checks the declared size of the image before decoding pixels
func Decode(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, fmt.Errorf("%w: %w: %dx%d pixels, at most %d allowed", ErrDecode, ErrTooLarge, cfg.Width, cfg.Height, MaxPixels)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	return img, nil
}

// ToRGB drops transparency: every pixel of the result is opaque
func ToRGB(img image.Image) *image.NRGBA {
	dst := imaging.Clone(img)
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}

	return dst
}

// Fit crops the centre of img to the target aspect ratio and scales the crop to exactly width x height.
// Wider sources lose their sides, taller ones their top and bottom.
func Fit(img image.Image, width, height int) *image.NRGBA {
	b := img.Bounds()
	srcW, srcH := b.Dx(), b.Dy()
	targetAspect := float64(width) / float64(height)

	cw, ch := srcW, srcH
	if float64(srcW)/float64(srcH) > targetAspect {
		cw = min(max(int(math.Round(float64(srcH)*targetAspect)), 1), srcW)
	} else {
		ch = min(max(int(math.Round(float64(srcW)/targetAspect)), 1), srcH)
	}

	left := b.Min.X + (srcW-cw)/2
	top := b.Min.Y + (srcH-ch)/2
	cropped := imaging.Crop(img, image.Rect(left, top, left+cw, top+ch))

	return imaging.Resize(cropped, width, height, imaging.Lanczos)
}

// Sharpen applies a 3x3 sharpening kernel. The outermost pixels are left as they are.
func Sharpen(img *image.NRGBA) *image.NRGBA {
	if img.Bounds().Min != (image.Point{}) {
		img = imaging.Clone(img)
	}

	dst := imaging.Convolve3x3(img, sharpenKernel, &imaging.ConvolveOptions{Normalize: true})

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return imaging.Clone(img)
	}

	stride := img.Stride
	copy(dst.Pix[:w*4], img.Pix[:w*4])
	copy(dst.Pix[(h-1)*dst.Stride:(h-1)*dst.Stride+w*4], img.Pix[(h-1)*stride:(h-1)*stride+w*4])
	for y := 1; y < h-1; y++ {
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+4], img.Pix[y*stride:y*stride+4])
		copy(dst.Pix[y*dst.Stride+(w-1)*4:y*dst.Stride+w*4], img.Pix[y*stride+(w-1)*4:y*stride+w*4])
	}

	return dst
}

func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
