package extractor

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
)

type docxDocument struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
		Tables     []docxTable     `xml:"tbl"`
	} `xml:"body"`
}

type docxTable struct {
	Rows []struct {
		Cells []struct {
			Paragraphs []docxParagraph `xml:"p"`
		} `xml:"tc"`
	} `xml:"tr"`
}

// docxParagraph collects run text in document order. Tabs and breaks count
// only inside runs; w:pPr also has tab elements that are tab stops.
type docxParagraph struct {
	Text string
}

func (p *docxParagraph) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var b strings.Builder
	depth, runs := 0, 0
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "pPr", "rPr", "txbxContent", "delText", "instrText":
				if err := d.Skip(); err != nil {
					return err
				}
				continue
			case "t":
				if runs > 0 {
					var s string
					if err := d.DecodeElement(&s, &el); err != nil {
						return err
					}
					b.WriteString(s)
					continue
				}
			case "r":
				runs++
			case "tab":
				if runs > 0 {
					b.WriteByte('\t')
				}
			case "br", "cr":
				if runs > 0 {
					b.WriteByte('\n')
				}
			}
			depth++
		case xml.EndElement:
			if depth == 0 {
				p.Text = b.String()
				return nil
			}
			depth--
			if el.Name.Local == "r" {
				runs--
			}
		}
	}
}

// extractDOCX emits body paragraphs first, then table rows as "a | b | c".
func (e *Extractor) extractDOCX(ctx context.Context, data []byte) (Result, error) {
	pkg, err := openPackage(data, e.maxPartBytes)
	if err != nil {
		return Result{}, err
	}
	raw, err := pkg.read("word/document.xml")
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	var doc docxDocument
	if err := xml.NewDecoder(bytes.NewReader(raw)).Decode(&doc); err != nil {
		return Result{}, fmt.Errorf("parse document.xml: %w", err)
	}

	var parts []string
	for _, p := range doc.Body.Paragraphs {
		if t := strings.TrimSpace(p.Text); t != "" {
			parts = append(parts, t)
		}
	}
	for _, tbl := range doc.Body.Tables {
		for _, row := range tbl.Rows {
			cells := make([]string, 0, len(row.Cells))
			empty := true
			for _, cell := range row.Cells {
				texts := make([]string, 0, len(cell.Paragraphs))
				for _, p := range cell.Paragraphs {
					texts = append(texts, p.Text)
				}
				t := strings.TrimSpace(strings.Join(texts, "\n"))
				if t != "" {
					empty = false
				}
				cells = append(cells, t)
			}
			if !empty {
				parts = append(parts, strings.Join(cells, " | "))
			}
		}
	}
	return extracted(strings.Join(parts, "\n")), nil
}
