package parser

import (
	"bytes"
	"context"
	"encoding/base64"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// XLSXParser renders each sheet as a heading followed by its rows.
type XLSXParser struct{}

func (p *XLSXParser) SupportedExtensions() []string { return []string{".xlsx", ".xlsm"} }

func (p *XLSXParser) Supports(ext string) bool { return supports(p.SupportedExtensions(), ext) }

func (p *XLSXParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	return parseFile(ctx, p, path)
}

func (p *XLSXParser) ParseBytes(ctx context.Context, data []byte, path string) (*ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, corrupt(path, "opening workbook", err)
	}
	defer f.Close()

	b := newBuilder("xlsx", len(data))
	xlsxMetadata(f, &b.doc.Metadata)

	sheets := f.GetSheetList()
	for i, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			slog.Debug("xlsx: sheet failed", "sheet", sheet, "error", err)
			b.warn(WarnItemFailed, i, "sheet %q could not be read: %v", sheet, err)
			continue
		}
		b.add(Heading(sheet, 2))
		if table := renderRows(rows); table != "" {
			b.add(Paragraph(table))
		}
		b.add(sheetPictures(f, sheet, i, b)...)
	}
	b.doc.Metadata.Pages = len(sheets)
	b.doc.Metadata.setExtra("sheets", strconv.Itoa(len(sheets)))
	return b.finish(), nil
}

// renderRows formats non-empty rows as pipe-delimited lines. Trailing
// empty cells are dropped.
func renderRows(rows [][]string) string {
	var lines []string
	for _, row := range rows {
		end := len(row)
		for end > 0 && strings.TrimSpace(row[end-1]) == "" {
			end--
		}
		if end == 0 {
			continue
		}
		cells := make([]string, end)
		for j, c := range row[:end] {
			cells[j] = collapseSpace(c)
		}
		lines = append(lines, "| "+strings.Join(cells, " | ")+" |")
	}
	return strings.Join(lines, "\n")
}

// sheetPictures returns the embedded pictures of a sheet as image elements.
func sheetPictures(f *excelize.File, sheet string, idx int, b *builder) []Element {
	cells, err := f.GetPictureCells(sheet)
	if err != nil || len(cells) == 0 {
		return nil
	}
	var out []Element
	for _, cell := range cells {
		pics, err := f.GetPictures(sheet, cell)
		if err != nil {
			b.warn(WarnItemFailed, idx, "sheet %q: picture at %s could not be read: %v", sheet, cell, err)
			continue
		}
		for _, pic := range pics {
			if len(pic.File) == 0 {
				continue
			}
			alt := cell
			if pic.Format != nil && pic.Format.AltText != "" {
				alt = pic.Format.AltText
			}
			uri := "data:" + mimeFromExt(pic.Extension) + ";base64," + base64.StdEncoding.EncodeToString(pic.File)
			out = append(out, Image(uri, alt, nil))
		}
	}
	return out
}

func xlsxMetadata(f *excelize.File, meta *Metadata) {
	if props, err := f.GetDocProps(); err == nil && props != nil {
		meta.Title = strings.TrimSpace(props.Title)
		meta.Author = strings.TrimSpace(props.Creator)
		meta.Subject = strings.TrimSpace(props.Subject)
		meta.Keywords = splitKeywords(props.Keywords)
		meta.setExtra("description", strings.TrimSpace(props.Description))
		meta.setExtra("category", strings.TrimSpace(props.Category))
		meta.setExtra("last_modified_by", strings.TrimSpace(props.LastModifiedBy))
		if t, err := time.Parse(time.RFC3339, props.Created); err == nil {
			meta.Created = t
		}
		if t, err := time.Parse(time.RFC3339, props.Modified); err == nil {
			meta.Modified = t
		}
	}
	if app, err := f.GetAppProps(); err == nil && app != nil {
		meta.setExtra("application", strings.TrimSpace(app.Application))
		meta.setExtra("company", strings.TrimSpace(app.Company))
	}
}
