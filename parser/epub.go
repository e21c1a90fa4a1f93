package parser

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// EPUBParser reads the spine documents of an EPUB in reading order.
type EPUBParser struct{}

func (p *EPUBParser) SupportedExtensions() []string { return []string{".epub"} }

func (p *EPUBParser) Supports(ext string) bool { return supports(p.SupportedExtensions(), ext) }

func (p *EPUBParser) Parse(ctx context.Context, path string) (*ParsedDocument, error) {
	return parseFile(ctx, p, path)
}

type epubContainer struct {
	Rootfiles []struct {
		FullPath  string `xml:"full-path,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"rootfiles>rootfile"`
}

type dcValue struct {
	Content string `xml:",chardata"`
}

type opfPackage struct {
	Metadata struct {
		Title       []dcValue `xml:"title"`
		Creator     []dcValue `xml:"creator"`
		Subject     []dcValue `xml:"subject"`
		Description []dcValue `xml:"description"`
		Language    []dcValue `xml:"language"`
		Publisher   []dcValue `xml:"publisher"`
		Identifier  []dcValue `xml:"identifier"`
		Date        []dcValue `xml:"date"`
	} `xml:"metadata"`
	Manifest []struct {
		ID        string `xml:"id,attr"`
		Href      string `xml:"href,attr"`
		MediaType string `xml:"media-type,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef  string `xml:"idref,attr"`
		Linear string `xml:"linear,attr"`
	} `xml:"spine>itemref"`
}

type epubEncryption struct {
	Data []struct {
		Method struct {
			Algorithm string `xml:"Algorithm,attr"`
		} `xml:"EncryptionMethod"`
		Reference struct {
			URI string `xml:"URI,attr"`
		} `xml:"CipherData>CipherReference"`
	} `xml:"EncryptedData"`
}

func (p *EPUBParser) ParseBytes(ctx context.Context, data []byte, name string) (*ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := openArchive(data, name)
	if err != nil {
		return nil, err
	}
	opfPath, err := findOPF(a)
	if err != nil {
		return nil, corrupt(name, "reading container", err)
	}
	raw, err := a.read(opfPath)
	if err != nil {
		return nil, corrupt(name, "reading package document", err)
	}
	var pkg opfPackage
	if err := xml.Unmarshal(raw, &pkg); err != nil {
		return nil, corrupt(name, "parsing package document", err)
	}

	b := newBuilder("epub", len(data))
	epubMetadata(&pkg, &b.doc.Metadata)

	encrypted := encryptedResources(a)
	if len(encrypted) > 0 || a.has("META-INF/rights.xml") {
		b.warn(WarnEncrypted, -1, "publication declares encrypted content; encrypted chapters are skipped")
	}

	hrefs := make(map[string]string, len(pkg.Manifest))
	for _, it := range pkg.Manifest {
		hrefs[it.ID] = it.Href
	}
	media := newMediaIndex(a)

	chapters := 0
	for i, ref := range pkg.Spine {
		href, ok := hrefs[ref.IDRef]
		if !ok {
			b.warn(WarnItemFailed, i, "spine item %d references unknown manifest id %q", i, ref.IDRef)
			continue
		}
		f, ok := media.lookup(opfPath, href)
		if !ok {
			b.warn(WarnItemFailed, i, "spine item %d: %s not found", i, href)
			continue
		}
		chapterPath := canonicalPath(f.Name)
		if encrypted[chapterPath] {
			b.warn(WarnItemFailed, i, "spine item %d: %s is encrypted", i, href)
			continue
		}
		if err := epubChapter(b, media, f.Name, chapterPath); err != nil {
			slog.Debug("epub: chapter failed", "index", i, "href", href, "error", err)
			b.warn(WarnItemFailed, i, "spine item %d: %v", i, err)
			continue
		}
		chapters++
	}
	media.report(b)

	b.doc.Metadata.Pages = chapters
	b.doc.Metadata.setExtra("chapters", strconv.Itoa(chapters))
	return b.finish(), nil
}

// epubChapter walks one XHTML spine document into b.
func epubChapter(b *builder, media *mediaIndex, member, chapterPath string) error {
	raw, err := media.a.read(member)
	if err != nil {
		return err
	}
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("parsing XHTML: %w", err)
	}
	w := &htmlWalker{
		b: b,
		resolve: func(src string) (string, bool) {
			if strings.HasPrefix(src, "data:") {
				return src, true
			}
			return media.dataURI(chapterPath, src)
		},
	}
	w.walk(bodyOf(doc))
	w.flushInline()
	return nil
}

// findOPF returns the package document path from META-INF/container.xml,
// falling back to the first .opf member.
func findOPF(a *archive) (string, error) {
	if raw, err := a.read("META-INF/container.xml"); err == nil {
		var c epubContainer
		if err := xml.Unmarshal(raw, &c); err != nil {
			return "", fmt.Errorf("parsing container.xml: %w", err)
		}
		for _, rf := range c.Rootfiles {
			if rf.FullPath != "" && a.has(rf.FullPath) {
				return canonicalPath(rf.FullPath), nil
			}
		}
	}
	for _, key := range a.order {
		if path.Ext(key) == ".opf" {
			return key, nil
		}
	}
	return "", fmt.Errorf("no package document")
}

// encryptedResources lists content members encrypted with anything other
// than font obfuscation.
func encryptedResources(a *archive) map[string]bool {
	out := map[string]bool{}
	raw, err := a.read("META-INF/encryption.xml")
	if err != nil {
		return out
	}
	var enc epubEncryption
	if err := xml.Unmarshal(raw, &enc); err != nil {
		return out
	}
	for _, d := range enc.Data {
		if strings.Contains(d.Method.Algorithm, "obfuscation") {
			continue
		}
		out[canonicalPath(d.Reference.URI)] = true
	}
	return out
}

func epubMetadata(pkg *opfPackage, meta *Metadata) {
	first := func(vals []dcValue) string {
		for _, v := range vals {
			if t := strings.TrimSpace(v.Content); t != "" {
				return t
			}
		}
		return ""
	}
	m := &pkg.Metadata
	meta.Title = first(m.Title)
	var authors []string
	for _, c := range m.Creator {
		if t := strings.TrimSpace(c.Content); t != "" {
			authors = append(authors, t)
		}
	}
	meta.Author = strings.Join(authors, ", ")
	for _, s := range m.Subject {
		if t := strings.TrimSpace(s.Content); t != "" {
			meta.Keywords = append(meta.Keywords, t)
		}
	}
	meta.Subject = first(m.Description)
	meta.setExtra("language", canonicalLanguage(first(m.Language)))
	meta.setExtra("publisher", first(m.Publisher))
	meta.setExtra("identifier", first(m.Identifier))
	if t, ok := parseLooseDate(first(m.Date)); ok {
		meta.Created = t
	}
}

// parseLooseDate accepts RFC 3339 timestamps and the reduced date forms
// YYYY-MM-DD, YYYY-MM and YYYY.
func parseLooseDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
