// Package extract reads the status table (and its optional colour legend)
// out of an HTML report attachment.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"mailingest-engine/internal/domain"
)

type Document struct {
	doc *goquery.Document
}

// Parse reads an HTML document. The parser is lenient; only read errors fail.
func Parse(r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %v", domain.ErrMalformedAttachment, err)
	}
	return &Document{doc: doc}, nil
}

// Extract parses b and opens the table matched by selector.
func Extract(b []byte, selector string) (*Rows, error) {
	d, err := Parse(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return d.Table(selector)
}

// Record is one data row: header labels paired with cell texts, in column order.
type Record struct {
	Line   int // 1-based row number below the header
	Color  string
	header []string
	values []string
}

// Get returns the cell under label. With duplicate labels the last one wins.
func (r Record) Get(label string) (string, bool) {
	for i := len(r.header) - 1; i >= 0; i-- {
		if r.header[i] == label {
			return r.values[i], true
		}
	}
	return "", false
}

func (r Record) Len() int { return len(r.values) }

// Map returns the row as label -> text.
func (r Record) Map() map[string]string {
	m := make(map[string]string, len(r.header))
	for i, h := range r.header {
		m[h] = r.values[i]
	}
	return m
}

// Rows is a single-pass cursor over a table's data rows.
type Rows struct {
	header []string
	rows   []*goquery.Selection
	i      int
}

// Table locates the first table matching selector. Its first row is the header.
func (d *Document) Table(selector string) (*Rows, error) {
	tbl := d.doc.Find(selector).First()
	if tbl.Length() == 0 {
		return nil, fmt.Errorf("%w: no table matches %q", domain.ErrMalformedAttachment, selector)
	}
	if !tbl.Is("table") {
		return nil, fmt.Errorf("%w: %q does not select a table", domain.ErrMalformedAttachment, selector)
	}

	trs := ownRows(tbl)
	if len(trs) == 0 {
		return nil, fmt.Errorf("%w: table %q has no header row", domain.ErrMalformedAttachment, selector)
	}

	header := cellTexts(trs[0])
	if len(header) == 0 {
		return nil, fmt.Errorf("%w: table %q has an empty header row", domain.ErrMalformedAttachment, selector)
	}
	return &Rows{header: header, rows: trs[1:]}, nil
}

func (rs *Rows) Header() []string { return append([]string(nil), rs.header...) }

// Next returns the next row, or io.EOF after the last. A row whose cell count
// differs from the header's is an ErrMalformedAttachment.
func (rs *Rows) Next() (Record, error) {
	if rs.i >= len(rs.rows) {
		return Record{}, io.EOF
	}
	tr := rs.rows[rs.i]
	rs.i++

	values := cellTexts(tr)
	if len(values) != len(rs.header) {
		return Record{}, fmt.Errorf("%w: row %d has %d cells, header has %d",
			domain.ErrMalformedAttachment, rs.i, len(values), len(rs.header))
	}
	return Record{
		Line:   rs.i,
		Color:  rowColor(tr),
		header: rs.header,
		values: values,
	}, nil
}

// ownRows returns the rows of tbl itself, not of tables nested in its cells.
func ownRows(tbl *goquery.Selection) []*goquery.Selection {
	var out []*goquery.Selection
	tbl.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.Closest("table").IsSelection(tbl) {
			out = append(out, tr)
		}
	})
	return out
}

func cells(tr *goquery.Selection) *goquery.Selection {
	return tr.ChildrenFiltered("td, th")
}

func cellTexts(tr *goquery.Selection) []string {
	var out []string
	cells(tr).Each(func(_ int, c *goquery.Selection) {
		out = append(out, cleanText(c.Text()))
	})
	return out
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.Join(strings.Fields(s), " ")
}

var reBackground = regexp.MustCompile(`(?i)background(?:-color)?\s*:\s*([^;]+)`)

// colorOf reads a bgcolor attribute or an inline background style.
func colorOf(s *goquery.Selection) string {
	if v, ok := s.Attr("bgcolor"); ok && strings.TrimSpace(v) != "" {
		return normalizeColor(v)
	}
	if style, ok := s.Attr("style"); ok {
		if m := reBackground.FindStringSubmatch(style); m != nil {
			return normalizeColor(m[1])
		}
	}
	return ""
}

func rowColor(tr *goquery.Selection) string {
	if c := colorOf(tr); c != "" {
		return c
	}
	return colorOf(cells(tr).First())
}

func normalizeColor(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.TrimSuffix(s, "!important")
}
