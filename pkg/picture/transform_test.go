package picture_test

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/sre-norns/imago/pkg/picture"
	"github.com/stretchr/testify/require"
)

func TestFit_Dimensions(t *testing.T) {
	testCases := map[string]struct {
		srcWidth, srcHeight int
		width, height       int
	}{
		"wide-to-landscape":     {srcWidth: 4000, srcHeight: 1000, width: 1920, height: 1080},
		"tall-to-landscape":     {srcWidth: 600, srcHeight: 900, width: 1920, height: 1080},
		"same-to-landscape":     {srcWidth: 320, srcHeight: 180, width: 1920, height: 1080},
		"wide-to-portrait":      {srcWidth: 1920, srcHeight: 1080, width: 1080, height: 1920},
		"tall-to-portrait":      {srcWidth: 100, srcHeight: 1000, width: 1080, height: 1920},
		"same-to-portrait":      {srcWidth: 90, srcHeight: 160, width: 1080, height: 1920},
		"tiny":                  {srcWidth: 1, srcHeight: 1, width: 1920, height: 1080},
		"odd-crop":              {srcWidth: 1001, srcHeight: 500, width: 160, height: 90},
		"irrational-like-ratio": {srcWidth: 333, srcHeight: 187, width: 1920, height: 1080},
		"one-pixel-wide-strip":  {srcWidth: 1, srcHeight: 4000, width: 1920, height: 1080},
		"one-pixel-high-strip":  {srcWidth: 4000, srcHeight: 1, width: 1080, height: 1920},
	}

	for name, tc := range testCases {
		test := tc
		t.Run(name, func(t *testing.T) {
			src := imaging.New(test.srcWidth, test.srcHeight, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
			got := picture.Fit(src, test.width, test.height)
			require.Equal(t, test.width, got.Bounds().Dx())
			require.Equal(t, test.height, got.Bounds().Dy())
		})
	}
}

func TestFit_CropsCentre(t *testing.T) {
	// Left and right thirds are red, the middle is blue: a 16:9 crop of a 3:1 image keeps mostly blue
	src := imaging.New(300, 100, color.NRGBA{R: 255, A: 255})
	src = imaging.Paste(src, imaging.New(100, 100, color.NRGBA{B: 255, A: 255}), image.Pt(100, 0))

	got := picture.Fit(src, 160, 90)
	centre := got.NRGBAAt(80, 45)
	require.Greater(t, centre.B, uint8(200))
	require.Less(t, centre.R, uint8(50))
}

func TestFit_OffsetBounds(t *testing.T) {
	src := imaging.New(400, 100, color.NRGBA{R: 255, A: 255})
	src = imaging.Paste(src, imaging.New(200, 100, color.NRGBA{B: 255, A: 255}), image.Pt(100, 0))
	sub := src.SubImage(image.Rect(100, 0, 400, 100))

	got := picture.Fit(sub, 160, 90)
	require.Equal(t, image.Rect(0, 0, 160, 90), got.Bounds())
	require.Greater(t, got.NRGBAAt(80, 45).B, uint8(200))
}

func TestToRGB(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 2, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 200, G: 100, B: 50, A: 0x80})
	src.SetNRGBA(1, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 0xff})

	got := picture.ToRGB(src)
	require.Equal(t, color.NRGBA{R: 200, G: 100, B: 50, A: 0xff}, got.NRGBAAt(0, 0))
	require.Equal(t, color.NRGBA{R: 1, G: 2, B: 3, A: 0xff}, got.NRGBAAt(1, 0))
}

func TestSharpen_UniformUnchanged(t *testing.T) {
	src := imaging.New(16, 9, color.NRGBA{R: 120, G: 60, B: 30, A: 255})
	got := picture.Sharpen(src)
	require.Equal(t, src.Pix, got.Pix)
}

func TestSharpen_EnhancesEdges(t *testing.T) {
	src := imaging.New(9, 9, color.NRGBA{R: 100, G: 100, B: 100, A: 255})
	src.SetNRGBA(4, 4, color.NRGBA{R: 140, G: 140, B: 140, A: 255})

	got := picture.Sharpen(src)
	// (32*140 - 8*2*100) / 16 = 180
	require.Equal(t, uint8(180), got.NRGBAAt(4, 4).R)
	// Neighbours get darker: (32*100 - 2*140 - 7*2*100) / 16 = 95
	require.Equal(t, uint8(95), got.NRGBAAt(3, 4).R)
	// Border pixels are kept
	require.Equal(t, src.NRGBAAt(0, 0), got.NRGBAAt(0, 0))
}

func TestTransform(t *testing.T) {
	var png bytes.Buffer
	require.NoError(t, imaging.Encode(&png, imaging.New(640, 480, color.NRGBA{G: 200, A: 128}), imaging.PNG))

	testCases := map[string]struct {
		options picture.Options
	}{
		"landscape": {options: picture.Options{Width: 1920, Height: 1080, Enhance: true}},
		"portrait":  {options: picture.Options{Width: 1080, Height: 1920}},
	}

	for name, tc := range testCases {
		test := tc
		t.Run(name, func(t *testing.T) {
			data, err := picture.Transform(png.Bytes(), test.options)
			require.NoError(t, err)

			cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
			require.NoError(t, err)
			require.Equal(t, "jpeg", format)
			require.Equal(t, test.options.Width, cfg.Width)
			require.Equal(t, test.options.Height, cfg.Height)
		})
	}
}

// pngDeclaring returns a valid 1x1 PNG whose header claims the given size
func pngDeclaring(t *testing.T, width, height uint32) []byte {
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(1, 1, color.NRGBA{A: 255}), imaging.PNG))

	data := buf.Bytes()
	// 8 byte signature, 4 byte length, "IHDR", then width and height
	binary.BigEndian.PutUint32(data[16:20], width)
	binary.BigEndian.PutUint32(data[20:24], height)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestTransform_Strip(t *testing.T) {
	var png bytes.Buffer
	require.NoError(t, imaging.Encode(&png, imaging.New(1, 4000, color.NRGBA{R: 90, A: 255}), imaging.PNG))

	data, err := picture.Transform(png.Bytes(), picture.Options{Width: 1920, Height: 1080, Enhance: true})
	require.NoError(t, err)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 1920, cfg.Width)
	require.Equal(t, 1080, cfg.Height)
}

func TestDecode_PixelLimit(t *testing.T) {
	testCases := map[string]struct {
		width, height uint32
		expectErr     error
	}{
		"huge-declared-size": {width: 100_000, height: 100_000, expectErr: picture.ErrTooLarge},
		"just-over-limit":    {width: 10_000, height: 9_000, expectErr: picture.ErrTooLarge},
		"one-by-one":         {width: 1, height: 1},
	}

	for name, tc := range testCases {
		test := tc
		t.Run(name, func(t *testing.T) {
			_, err := picture.Decode(pngDeclaring(t, test.width, test.height))
			if test.expectErr != nil {
				require.ErrorIs(t, err, picture.ErrDecode)
				require.ErrorIs(t, err, test.expectErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestTransform_Errors(t *testing.T) {
	_, err := picture.Transform([]byte("<html>not an image</html>"), picture.Options{Width: 10, Height: 10})
	require.ErrorIs(t, err, picture.ErrDecode)

	_, err = picture.Transform(nil, picture.Options{})
	require.Error(t, err)
}
