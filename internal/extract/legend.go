package extract

import (
	"bytes"
	"strings"
)

type LegendEntry struct {
	Color       string
	Label       string
	Description string
}

// Legend maps a normalized colour to what it means in the status table.
type Legend map[string]LegendEntry

// Lookup finds the entry for a row colour.
func (l Legend) Lookup(color string) (LegendEntry, bool) {
	if color == "" {
		return LegendEntry{}, false
	}
	e, ok := l[normalizeColor(color)]
	return e, ok
}

// ExtractLegend parses b and reads the legend matched by selector.
func ExtractLegend(b []byte, selector string) (Legend, error) {
	d, err := Parse(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	return d.Legend(selector), nil
}

// Legend reads a three-column table: colour swatch, label, description.
// The swatch colour comes from the cell's bgcolor or style, falling back to
// its text. Heading rows and rows of another width are ignored. A missing
// legend is empty.
func (d *Document) Legend(selector string) Legend {
	out := Legend{}
	if selector == "" {
		return out
	}
	tbl := d.doc.Find(selector).First()
	if tbl.Length() == 0 {
		return out
	}

	for _, tr := range ownRows(tbl) {
		if tr.ChildrenFiltered("th").Length() > 0 {
			continue
		}
		cs := cells(tr)
		if cs.Length() != 3 {
			continue
		}
		swatch := cs.Eq(0)
		color := colorOf(swatch)
		if color == "" {
			color = normalizeColor(cleanText(swatch.Text()))
		}
		if color == "" {
			continue
		}
		out[color] = LegendEntry{
			Color:       color,
			Label:       cleanText(cs.Eq(1).Text()),
			Description: cleanText(cs.Eq(2).Text()),
		}
	}
	return out
}

// Describe returns "label: description" for a row colour, or "".
func (l Legend) Describe(color string) string {
	e, ok := l.Lookup(color)
	if !ok {
		return ""
	}
	return strings.TrimSuffix(e.Label+": "+e.Description, ": ")
}

