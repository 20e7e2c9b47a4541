package extractor

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var slidePartRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

type pptxPresentation struct {
	SlideIDs []struct {
		RelID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
	} `xml:"sldIdLst>sldId"`
}

type pptxRelationships struct {
	Items []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

type pptxShape struct {
	TxBody *struct {
		Paragraphs []drawingParagraph `xml:"p"`
	} `xml:"txBody"`
}

// drawingParagraph is a:p; text lives in a:t under runs and fields.
type drawingParagraph struct {
	Text string
}

func (p *drawingParagraph) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	var b strings.Builder
	depth := 0
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "pPr", "rPr", "endParaRPr":
				if err := d.Skip(); err != nil {
					return err
				}
				continue
			case "t":
				var s string
				if err := d.DecodeElement(&s, &el); err != nil {
					return err
				}
				b.WriteString(s)
				continue
			case "br":
				b.WriteByte('\n')
			}
			depth++
		case xml.EndElement:
			if depth == 0 {
				p.Text = b.String()
				return nil
			}
			depth--
		}
	}
}

// extractPPTX emits "[Slide N]" followed by the text of each shape for every
// slide with text. N is the position in the deck, so slides without text
// still advance it.
func (e *Extractor) extractPPTX(ctx context.Context, data []byte) (Result, error) {
	pkg, err := openPackage(data, e.maxPartBytes)
	if err != nil {
		return Result{}, err
	}
	slides, err := slideOrder(pkg)
	if err != nil {
		return Result{}, err
	}

	var parts []string
	for i, name := range slides {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		raw, err := pkg.read(name)
		if err != nil {
			return Result{}, err
		}
		texts, err := slideTexts(raw)
		if err != nil {
			return Result{}, fmt.Errorf("parse %s: %w", name, err)
		}
		if len(texts) > 0 {
			parts = append(parts, fmt.Sprintf("[Slide %d]\n%s", i+1, strings.Join(texts, "\n")))
		}
	}
	return extracted(strings.Join(parts, "\n\n")), nil
}

// slideOrder follows presentation.xml when it resolves, otherwise the
// numeric order of slideN.xml members.
func slideOrder(pkg *ooxmlPackage) ([]string, error) {
	if ordered, ok := slideOrderFromPresentation(pkg); ok {
		return ordered, nil
	}
	type numbered struct {
		n    int
		name string
	}
	var found []numbered
	for name := range pkg.files {
		m := slidePartRe.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		found = append(found, numbered{n: n, name: name})
	}
	if len(found) == 0 && !pkg.has("ppt/presentation.xml") {
		return nil, errors.New("not a presentation package")
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.name
	}
	return out, nil
}

func slideOrderFromPresentation(pkg *ooxmlPackage) ([]string, bool) {
	if !pkg.has("ppt/presentation.xml") || !pkg.has("ppt/_rels/presentation.xml.rels") {
		return nil, false
	}
	presRaw, err := pkg.read("ppt/presentation.xml")
	if err != nil {
		return nil, false
	}
	relsRaw, err := pkg.read("ppt/_rels/presentation.xml.rels")
	if err != nil {
		return nil, false
	}
	var pres pptxPresentation
	if err := xml.Unmarshal(presRaw, &pres); err != nil {
		return nil, false
	}
	var rels pptxRelationships
	if err := xml.Unmarshal(relsRaw, &rels); err != nil {
		return nil, false
	}
	targets := make(map[string]string, len(rels.Items))
	for _, r := range rels.Items {
		targets[r.ID] = r.Target
	}

	out := make([]string, 0, len(pres.SlideIDs))
	for _, s := range pres.SlideIDs {
		target, ok := targets[s.RelID]
		if !ok {
			return nil, false
		}
		name := resolveTarget("ppt", target)
		if !pkg.has(name) {
			return nil, false
		}
		out = append(out, name)
	}
	return out, len(out) > 0
}

// resolveTarget turns a relationship target into a package member name.
func resolveTarget(base, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(path.Clean(target), "/")
	}
	return path.Clean(path.Join(base, target))
}

// slideTexts walks the shape tree, including shapes nested in groups, and
// returns the trimmed non-empty text of each shape.
func slideTexts(raw []byte) ([]string, error) {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var texts []string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return texts, nil
		}
		if err != nil {
			return nil, err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "sp" {
			continue
		}
		var shape pptxShape
		if err := dec.DecodeElement(&shape, &start); err != nil {
			return nil, err
		}
		if shape.TxBody == nil {
			continue
		}
		lines := make([]string, 0, len(shape.TxBody.Paragraphs))
		for _, p := range shape.TxBody.Paragraphs {
			lines = append(lines, p.Text)
		}
		if t := strings.TrimSpace(strings.Join(lines, "\n")); t != "" {
			texts = append(texts, t)
		}
	}
}
