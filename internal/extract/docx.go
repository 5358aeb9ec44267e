package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"
)

const (
	// defaultDocumentPart is the conventional path of the main body inside a .docx zip.
	defaultDocumentPart = "word/document.xml"
	contentTypesPart    = "[Content_Types].xml"
	mainDocContentType  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

// textNodeRe matches <w:t>text</w:t> including variants with attributes
// such as <w:t xml:space="preserve">.
var textNodeRe = regexp.MustCompile(`<w:t[^>]*>([^<]*)</w:t>`)

// Override elements in [Content_Types].xml can list attributes in either order.
var (
	overridePartFirst = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(mainDocContentType) + `"`)
	overrideTypeFirst = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(mainDocContentType) + `"[^>]+PartName="([^"]+)"`)
)

// mainDocumentPart resolves the main document part from [Content_Types].xml.
// Returns "" when the package carries no override, in which case the caller
// falls back to the conventional path.
func mainDocumentPart(zr *zip.Reader) string {
	for _, f := range zr.File {
		if f.Name != contentTypesPart {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return ""
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return ""
		}
		content := string(data)
		if m := overridePartFirst.FindStringSubmatch(content); len(m) > 1 {
			return strings.TrimPrefix(m[1], "/")
		}
		if m := overrideTypeFirst.FindStringSubmatch(content); len(m) > 1 {
			return strings.TrimPrefix(m[1], "/")
		}
		return ""
	}
	return ""
}

// extractDOCX pulls text out of .docx bytes. A DOCX file is a ZIP whose main
// body lives in an OOXML part; every <w:t> text node is collected so content
// survives regardless of paragraph or run attributes.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract docx: not a zip archive: %w", err)
	}

	docPart := mainDocumentPart(zr)
	if docPart == "" {
		docPart = defaultDocumentPart
	}

	var docXML []byte
	for _, f := range zr.File {
		if f.Name != docPart {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("extract docx: open %s: %w", f.Name, err)
		}
		docXML, err = io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("extract docx: read %s: %w", f.Name, err)
		}
		break
	}
	if docXML == nil {
		return "", fmt.Errorf("extract docx: %s not found", docPart)
	}

	nodes := textNodeRe.FindAllStringSubmatch(string(docXML), -1)
	if len(nodes) == 0 {
		return "", nil
	}
	var b strings.Builder
	for i, n := range nodes {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strings.TrimSpace(n[1]))
	}
	return strings.TrimSpace(b.String()), nil
}
