package parser

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"

	"github.com/ledongthuc/pdf"
)

var errUndecodable = errors.New("image encoding not supported")

// matrix is a PDF transformation matrix [a b c d e f].
type matrix [6]float64

var identity = matrix{1, 0, 0, 1, 0, 0}

// mul returns m × n.
func (m matrix) mul(n matrix) matrix {
	return matrix{
		m[0]*n[0] + m[1]*n[2],
		m[0]*n[1] + m[1]*n[3],
		m[2]*n[0] + m[3]*n[2],
		m[2]*n[1] + m[3]*n[3],
		m[4]*n[0] + m[5]*n[2] + n[4],
		m[4]*n[1] + m[5]*n[3] + n[5],
	}
}

func (m matrix) apply(x, y float64) (float64, float64) {
	return x*m[0] + y*m[2] + m[4], x*m[1] + y*m[3] + m[5]
}

// placement is the bounding box of the unit square under m, in PDF
// bottom-up coordinates.
func (m matrix) placement() (x, y, w, h float64) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, c := range [4][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		px, py := m.apply(c[0], c[1])
		minX, maxX = math.Min(minX, px), math.Max(maxX, px)
		minY, maxY = math.Min(minY, py), math.Max(maxY, py)
	}
	return minX, minY, maxX - minX, maxY - minY
}

// pageImages finds every image XObject drawn on the page, with its
// placement, and decodes the pixels where the encoding allows.
func pageImages(page pdf.Page, pageNum int, height float64, maxPixels int) (out []ImageItem) {
	xobjects := page.Resources().Key("XObject")
	if xobjects.Kind() != pdf.Dict {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			slog.Debug("pdf: image placement scan failed", "page", pageNum, "error", rec)
		}
	}()

	ctm := identity
	var saved []matrix
	handle := func(stk *pdf.Stack, op string) {
		switch op {
		case "q":
			saved = append(saved, ctm)
		case "Q":
			if n := len(saved); n > 0 {
				ctm, saved = saved[n-1], saved[:n-1]
			}
		case "cm":
			if stk.Len() >= 6 {
				var m matrix
				for i := 5; i >= 0; i-- {
					m[i] = stk.Pop().Float64()
				}
				ctm = m.mul(ctm)
			}
		case "Do":
			if stk.Len() >= 1 {
				name := stk.Pop().Name()
				xo := xobjects.Key(name)
				if xo.Key("Subtype").Name() == "Image" {
					x, y, w, h := ctm.placement()
					img := decodeImage(xo, maxPixels)
					img.Page = pageNum
					img.X, img.Y = x, height-(y+h)
					img.Width, img.Height = w, h
					out = append(out, img)
				}
			}
		}
		for stk.Len() > 0 {
			stk.Pop()
		}
	}

	contents := page.V.Key("Contents")
	if contents.Kind() == pdf.Array {
		for i := 0; i < contents.Len(); i++ {
			pdf.Interpret(contents.Index(i), handle)
		}
	} else {
		pdf.Interpret(contents, handle)
	}
	return out
}

// decodeImage reads the samples of an image XObject as Gray or RGB.
// Anything outside the supported subset is returned with Err set.
func decodeImage(xo pdf.Value, maxPixels int) (img ImageItem) {
	w := int(xo.Key("Width").Int64())
	h := int(xo.Key("Height").Int64())
	img.PixelWidth, img.PixelHeight = w, h
	if w <= 0 || h <= 0 {
		img.Err = fmt.Errorf("invalid dimensions %dx%d", w, h)
		return img
	}
	if w*h > maxPixels {
		img.Err = fmt.Errorf("%dx%d exceeds pixel limit", w, h)
		return img
	}
	if xo.Key("ImageMask").Bool() {
		img.Err = fmt.Errorf("%w: image mask", errUndecodable)
		return img
	}
	if err := checkFilters(xo.Key("Filter")); err != nil {
		img.Err = err
		return img
	}
	channels, err := colorChannels(xo.Key("ColorSpace"))
	if err != nil {
		img.Err = err
		return img
	}
	bpc := int(xo.Key("BitsPerComponent").Int64())
	if bpc == 0 {
		bpc = 8
	}
	if bpc != 8 && !(channels == 1 && (bpc == 1 || bpc == 2 || bpc == 4)) {
		img.Err = fmt.Errorf("%w: %d bits per component", errUndecodable, bpc)
		return img
	}

	raw, err := readStream(xo)
	if err != nil {
		img.Err = err
		return img
	}
	pix, err := unpackSamples(raw, w, h, channels, bpc)
	if err != nil {
		img.Err = err
		return img
	}
	img.Pixels = pix
	return img
}

// checkFilters accepts no filter, FlateDecode and ASCII85Decode.
func checkFilters(f pdf.Value) error {
	var names []string
	switch f.Kind() {
	case pdf.Name:
		names = []string{f.Name()}
	case pdf.Array:
		for i := 0; i < f.Len(); i++ {
			names = append(names, f.Index(i).Name())
		}
	}
	for _, n := range names {
		switch n {
		case "FlateDecode", "ASCII85Decode":
		default:
			return fmt.Errorf("%w: filter %s", errUndecodable, n)
		}
	}
	return nil
}

// colorChannels returns the component count of a supported color space.
func colorChannels(cs pdf.Value) (int, error) {
	switch cs.Kind() {
	case pdf.Name:
		switch cs.Name() {
		case "DeviceGray", "CalGray", "G":
			return 1, nil
		case "DeviceRGB", "CalRGB", "RGB":
			return 3, nil
		case "DeviceCMYK", "CMYK":
			return 4, nil
		}
		return 0, fmt.Errorf("%w: color space %s", errUndecodable, cs.Name())
	case pdf.Array:
		if cs.Len() >= 2 && cs.Index(0).Name() == "ICCBased" {
			switch n := int(cs.Index(1).Key("N").Int64()); n {
			case 1, 3, 4:
				return n, nil
			}
		}
		return 0, fmt.Errorf("%w: color space %s", errUndecodable, cs.Index(0).Name())
	}
	return 0, fmt.Errorf("%w: missing color space", errUndecodable)
}

// readStream returns the decoded stream bytes. The reader panics on
// filters it does not know.
func readStream(v pdf.Value) (data []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			data, err = nil, fmt.Errorf("%w: %v", errUndecodable, rec)
		}
	}()
	rc := v.Reader()
	defer rc.Close()
	return io.ReadAll(rc)
}

// unpackSamples converts raw component data into Gray (1 channel) or RGB
// (3 channels) bytes. CMYK is converted to RGB, sub-byte gray is scaled to
// the full 8-bit range.
func unpackSamples(raw []byte, w, h, channels, bpc int) ([]byte, error) {
	rowBytes := (w*channels*bpc + 7) / 8
	if len(raw) < rowBytes*h {
		return nil, fmt.Errorf("%w: short sample data (%d < %d)", errUndecodable, len(raw), rowBytes*h)
	}

	switch {
	case bpc == 8 && channels == 4:
		out := make([]byte, 0, w*h*3)
		for i := 0; i < w*h; i++ {
			c, m, y, k := raw[i*4], raw[i*4+1], raw[i*4+2], raw[i*4+3]
			out = append(out, cmykToRGB(c, k), cmykToRGB(m, k), cmykToRGB(y, k))
		}
		return out, nil
	case bpc == 8:
		return raw[:w*h*channels], nil
	}

	// Sub-byte grayscale. Rows are byte-aligned.
	maxVal := (1 << bpc) - 1
	out := make([]byte, 0, w*h)
	for y := 0; y < h; y++ {
		row := raw[y*rowBytes : (y+1)*rowBytes]
		for x := 0; x < w; x++ {
			bit := x * bpc
			v := int(row[bit/8]>>(8-bpc-bit%8)) & maxVal
			out = append(out, byte(v*255/maxVal))
		}
	}
	return out, nil
}

func cmykToRGB(c, k byte) byte {
	return byte(255 - math.Min(255, float64(c)+float64(k)))
}
