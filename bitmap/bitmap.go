// Package bitmap encodes raw decoded pixel samples into an uncompressed
// 24-bit BMP container so embedded figures can be carried as data URIs
// without a general-purpose image codec.
package bitmap

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
)

const (
	fileHeaderSize = 14
	infoHeaderSize = 40
	bitsPerPixel   = 24
)

// ErrSizeMismatch is returned when the sample buffer length does not equal
// width*height times 4 (RGBA), 3 (RGB) or 1 (grayscale).
var ErrSizeMismatch = errors.New("bitmap: pixel buffer does not match dimensions")

// Layout identifies the channel layout of a sample buffer.
type Layout int

const (
	LayoutUnknown Layout = iota
	LayoutGray
	LayoutRGB
	LayoutRGBA
)

// Channels returns the number of bytes per pixel for the layout.
func (l Layout) Channels() int {
	switch l {
	case LayoutGray:
		return 1
	case LayoutRGB:
		return 3
	case LayoutRGBA:
		return 4
	default:
		return 0
	}
}

// DetectLayout infers the channel layout from the buffer length.
func DetectLayout(n, width, height int) Layout {
	if width <= 0 || height <= 0 {
		return LayoutUnknown
	}
	px := width * height
	switch n {
	case px * 4:
		return LayoutRGBA
	case px * 3:
		return LayoutRGB
	case px:
		return LayoutGray
	default:
		return LayoutUnknown
	}
}

// Encode produces a top-down 24-bit BMP from pix. The layout is inferred
// from len(pix); a buffer that matches no layout is rejected.
func Encode(pix []byte, width, height int) ([]byte, error) {
	layout := DetectLayout(len(pix), width, height)
	if layout == LayoutUnknown {
		return nil, ErrSizeMismatch
	}

	rgba := toRGBA(pix, layout)

	rowSize := RowSize(width)
	imageSize := rowSize * height
	out := make([]byte, fileHeaderSize+infoHeaderSize+imageSize)

	// BITMAPFILEHEADER
	out[0], out[1] = 'B', 'M'
	binary.LittleEndian.PutUint32(out[2:], uint32(len(out)))
	binary.LittleEndian.PutUint32(out[10:], fileHeaderSize+infoHeaderSize)

	// BITMAPINFOHEADER; negative height means rows are stored top-down.
	h := out[fileHeaderSize:]
	binary.LittleEndian.PutUint32(h[0:], infoHeaderSize)
	binary.LittleEndian.PutUint32(h[4:], uint32(int32(width)))
	binary.LittleEndian.PutUint32(h[8:], uint32(int32(-height)))
	binary.LittleEndian.PutUint16(h[12:], 1)
	binary.LittleEndian.PutUint16(h[14:], bitsPerPixel)
	binary.LittleEndian.PutUint32(h[16:], 0) // BI_RGB
	binary.LittleEndian.PutUint32(h[20:], uint32(imageSize))
	binary.LittleEndian.PutUint32(h[24:], 2835) // 72 dpi
	binary.LittleEndian.PutUint32(h[28:], 2835)

	writeRows(out[fileHeaderSize+infoHeaderSize:], rgba, width, height, rowSize)
	return out, nil
}

// RowSize is the padded byte length of one 24-bit row.
func RowSize(width int) int {
	return (width*3 + 3) &^ 3
}

// DataURI wraps an encoded bitmap in a base64 data URI.
func DataURI(bmp []byte) string {
	return "data:image/bmp;base64," + base64.StdEncoding.EncodeToString(bmp)
}

// toRGBA expands gray and RGB samples so every layout shares one row writer.
func toRGBA(pix []byte, layout Layout) []byte {
	switch layout {
	case LayoutRGBA:
		return pix
	case LayoutRGB:
		n := len(pix) / 3
		out := make([]byte, n*4)
		for i := 0; i < n; i++ {
			out[i*4] = pix[i*3]
			out[i*4+1] = pix[i*3+1]
			out[i*4+2] = pix[i*3+2]
			out[i*4+3] = 0xff
		}
		return out
	default:
		out := make([]byte, len(pix)*4)
		for i, g := range pix {
			out[i*4] = g
			out[i*4+1] = g
			out[i*4+2] = g
			out[i*4+3] = 0xff
		}
		return out
	}
}

func writeRows(dst, rgba []byte, width, height, rowSize int) {
	for y := 0; y < height; y++ {
		row := dst[y*rowSize:]
		src := rgba[y*width*4:]
		for x := 0; x < width; x++ {
			row[x*3] = src[x*4+2]
			row[x*3+1] = src[x*4+1]
			row[x*3+2] = src[x*4]
		}
		// padding bytes are already zero
	}
}
