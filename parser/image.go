package parser

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strconv"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageParser wraps a raster image as a single image element. No OCR is
// attempted.
type ImageParser struct{}

func (p *ImageParser) SupportedExtensions() []string {
	return []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".webp", ".tiff", ".tif"}
}

func (p *ImageParser) Supports(ext string) bool { return supports(p.SupportedExtensions(), ext) }

func (p *ImageParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	return parseFile(ctx, p, path)
}

func (p *ImageParser) ParseBytes(ctx context.Context, data []byte, path string) (*ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, corrupt(path, "decoding image header", err)
	}

	b := newBuilder(format, len(data))
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	b.doc.Metadata.Title = name
	b.doc.Metadata.Pages = 1
	b.doc.Metadata.setExtra("width", strconv.Itoa(cfg.Width))
	b.doc.Metadata.setExtra("height", strconv.Itoa(cfg.Height))
	b.doc.Metadata.setExtra("image_format", format)

	uri := "data:" + mimeFromExt("."+format) + ";base64," + base64.StdEncoding.EncodeToString(data)
	b.add(Image(uri, name, &Position{Page: 1}))
	return b.finish(), nil
}
