package parser

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// maxPartSize bounds how much of a single archive member is read.
const maxPartSize = 256 << 20

// archive is an opened ZIP container with its members indexed by
// canonical path.
type archive struct {
	name  string
	files map[string]*zip.File
	order []string
}

func openArchive(data []byte, name string) (*archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, corrupt(name, "opening ZIP", err)
	}
	a := &archive{name: name, files: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		key := canonicalPath(f.Name)
		a.files[key] = f
		a.order = append(a.order, key)
	}
	return a, nil
}

func (a *archive) has(name string) bool {
	_, ok := a.files[canonicalPath(name)]
	return ok
}

// read returns the content of a member by path.
func (a *archive) read(name string) ([]byte, error) {
	f, ok := a.files[canonicalPath(name)]
	if !ok {
		return nil, fmt.Errorf("%s: not found", name)
	}
	return readZipFile(f)
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, maxPartSize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", f.Name, err)
	}
	return data, nil
}

// canonicalPath normalizes an archive path: forward slashes, cleaned, no
// leading slash, lower-cased.
func canonicalPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	return strings.ToLower(p)
}

// ---------------------------------------------------------------------------
// Media index
// ---------------------------------------------------------------------------

// mediaIndex resolves image references from document parts to archive
// members. There is one key per member; lookup tries the reference
// variants in turn.
type mediaIndex struct {
	a          *archive
	unresolved int
}

func newMediaIndex(a *archive) *mediaIndex {
	return &mediaIndex{a: a}
}

// lookup resolves ref as seen from the part at base. Variants, in order:
// relative to base's directory, archive-absolute, URL-unescaped, and
// finally a unique basename match.
func (m *mediaIndex) lookup(base, ref string) (*zip.File, bool) {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexAny(ref, "#?"); i >= 0 {
		ref = ref[:i]
	}
	if ref == "" || strings.Contains(ref, "://") || strings.HasPrefix(ref, "data:") {
		return nil, false
	}
	dir := path.Dir(canonicalPath(base))
	var candidates []string
	for _, r := range unescapedVariants(ref) {
		if !strings.HasPrefix(r, "/") {
			candidates = append(candidates, path.Join(dir, r))
		}
		candidates = append(candidates, r)
	}
	for _, c := range candidates {
		if f, ok := m.a.files[canonicalPath(c)]; ok {
			return f, true
		}
	}

	want := path.Base(canonicalPath(ref))
	var found *zip.File
	for key, f := range m.a.files {
		if path.Base(key) == want {
			if found != nil {
				return nil, false
			}
			found = f
		}
	}
	return found, found != nil
}

func unescapedVariants(ref string) []string {
	if u, err := url.PathUnescape(ref); err == nil && u != ref {
		return []string{ref, u}
	}
	return []string{ref}
}

// dataURI resolves ref and returns the member as a base64 data URI. Misses
// are counted.
func (m *mediaIndex) dataURI(base, ref string) (string, bool) {
	f, ok := m.lookup(base, ref)
	if !ok {
		m.unresolved++
		return "", false
	}
	data, err := readZipFile(f)
	if err != nil || len(data) == 0 {
		m.unresolved++
		return "", false
	}
	return "data:" + mimeFromExt(path.Ext(f.Name)) + ";base64," + base64.StdEncoding.EncodeToString(data), true
}

// report adds the images_unresolved warning when references were missed.
func (m *mediaIndex) report(b *builder) {
	if m.unresolved > 0 {
		b.warn(WarnImagesUnresolved, -1, "%d image references could not be resolved", m.unresolved)
	}
}

// mimeFromExt returns the MIME type for common image extensions.
func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".bmp":
		return "image/bmp"
	case ".tiff", ".tif":
		return "image/tiff"
	case ".webp":
		return "image/webp"
	case ".svg":
		return "image/svg+xml"
	case ".emf":
		return "image/emf"
	case ".wmf":
		return "image/wmf"
	default:
		return "application/octet-stream"
	}
}

// ---------------------------------------------------------------------------
// Relationships and generic XML
// ---------------------------------------------------------------------------

type relationships struct {
	XMLName xml.Name       `xml:"Relationships"`
	Rels    []relationship `xml:"Relationship"`
}

type relationship struct {
	ID         string `xml:"Id,attr"`
	Target     string `xml:"Target,attr"`
	Type       string `xml:"Type,attr"`
	TargetMode string `xml:"TargetMode,attr"`
}

// readRels returns rId -> target for the part at name. Missing or broken
// rels yield an empty map.
func (a *archive) readRels(name string) map[string]string {
	dir, file := path.Split(name)
	data, err := a.read(dir + "_rels/" + file + ".rels")
	if err != nil {
		return map[string]string{}
	}
	var rels relationships
	if err := xml.Unmarshal(data, &rels); err != nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(rels.Rels))
	for _, r := range rels.Rels {
		if r.TargetMode == "External" {
			continue
		}
		out[r.ID] = r.Target
	}
	return out
}

// xmlNode is a generic element tree that keeps child order.
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Content string     `xml:",chardata"`
	Nodes   []xmlNode  `xml:",any"`
}

func (n *xmlNode) attr(local string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

// child returns the first direct child with the given local name.
func (n *xmlNode) child(local string) *xmlNode {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
	}
	return nil
}

// find returns the first descendant with the given local name.
func (n *xmlNode) find(local string) *xmlNode {
	for i := range n.Nodes {
		c := &n.Nodes[i]
		if c.XMLName.Local == local {
			return c
		}
		if d := c.find(local); d != nil {
			return d
		}
	}
	return nil
}

// walk visits n and its descendants depth-first. fn returning false skips
// the children of the visited node.
func (n *xmlNode) walk(fn func(*xmlNode) bool) {
	if !fn(n) {
		return
	}
	for i := range n.Nodes {
		n.Nodes[i].walk(fn)
	}
}

func parseXMLNode(data []byte) (*xmlNode, error) {
	var root xmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	return &root, nil
}

// ---------------------------------------------------------------------------
// Document properties
// ---------------------------------------------------------------------------

type coreProperties struct {
	Title          string `xml:"title"`
	Subject        string `xml:"subject"`
	Creator        string `xml:"creator"`
	Keywords       string `xml:"keywords"`
	Description    string `xml:"description"`
	LastModifiedBy string `xml:"lastModifiedBy"`
	Created        string `xml:"created"`
	Modified       string `xml:"modified"`
}

type appProperties struct {
	Pages       string `xml:"Pages"`
	Slides      string `xml:"Slides"`
	Application string `xml:"Application"`
}

// readProperties fills meta from docProps/core.xml and docProps/app.xml.
// Both parts are optional.
func (a *archive) readProperties(meta *Metadata) {
	if data, err := a.read("docProps/core.xml"); err == nil {
		var cp coreProperties
		if xml.Unmarshal(data, &cp) == nil {
			meta.Title = strings.TrimSpace(cp.Title)
			meta.Author = strings.TrimSpace(cp.Creator)
			meta.Subject = strings.TrimSpace(cp.Subject)
			meta.Keywords = splitKeywords(cp.Keywords)
			meta.setExtra("description", strings.TrimSpace(cp.Description))
			meta.setExtra("last_modified_by", strings.TrimSpace(cp.LastModifiedBy))
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(cp.Created)); err == nil {
				meta.Created = t
			}
			if t, err := time.Parse(time.RFC3339, strings.TrimSpace(cp.Modified)); err == nil {
				meta.Modified = t
			}
		}
	}
	if data, err := a.read("docProps/app.xml"); err == nil {
		var ap appProperties
		if xml.Unmarshal(data, &ap) == nil {
			if n, err := strconv.Atoi(strings.TrimSpace(ap.Pages)); err == nil {
				meta.Pages = n
			} else if n, err := strconv.Atoi(strings.TrimSpace(ap.Slides)); err == nil {
				meta.Pages = n
			}
			meta.setExtra("application", strings.TrimSpace(ap.Application))
		}
	}
}
