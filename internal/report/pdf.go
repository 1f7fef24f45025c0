// Package report renders Markdown reports to PDF and mails them to the
// session's registered contact.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

const (
	bodyFont   = "Helvetica"
	codeFont   = "Courier"
	lineHeight = 6.0
	indentStep = 6.0
)

var headingSizes = map[int]float64{1: 18, 2: 15, 3: 13, 4: 12, 5: 11, 6: 11}

// Renderer turns Markdown into a PDF document.
type Renderer struct {
	md     goldmark.Markdown
	author string
}

// NewRenderer creates a renderer that stamps author on every document.
func NewRenderer(author string) *Renderer {
	return &Renderer{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		author: author,
	}
}

type pdfWriter struct {
	pdf    *fpdf.Fpdf
	tr     func(string) string
	src    []byte
	indent float64
}

// Render converts Markdown to PDF bytes. The first level-one heading, when
// present, becomes the document title.
func (r *Renderer) Render(title string, markdown string) ([]byte, error) {
	src := []byte(markdown)
	doc := r.md.Parser().Parse(text.NewReader(src))

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(18, 18, 18)
	pdf.SetAutoPageBreak(true, 18)
	pdf.SetTitle(title, true)
	pdf.SetAuthor(r.author, true)
	pdf.SetCreationDate(time.Now())

	w := &pdfWriter{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor(""), src: src}
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont(bodyFont, "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 6, w.tr(fmt.Sprintf("%s - %d", r.author, pdf.PageNo())), "", 0, "C", false, 0, "")
		pdf.SetTextColor(0, 0, 0)
	})
	pdf.AddPage()

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		w.block(n)
	}

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (w *pdfWriter) para(style string, size float64, txt string) {
	if strings.TrimSpace(txt) == "" {
		return
	}
	w.pdf.SetFont(bodyFont, style, size)
	w.pdf.SetX(w.pdf.GetX() + w.indent)
	w.pdf.MultiCell(0, lineHeight, w.tr(txt), "", "L", false)
}

func (w *pdfWriter) block(n ast.Node) {
	switch node := n.(type) {
	case *ast.Heading:
		size := headingSizes[node.Level]
		w.pdf.Ln(2)
		w.para("B", size, inlineText(node, w.src))
		w.pdf.Ln(1)

	case *ast.Paragraph, *ast.TextBlock:
		w.para("", 11, inlineText(node, w.src))
		if _, ok := n.(*ast.Paragraph); ok {
			w.pdf.Ln(2)
		}

	case *ast.List:
		w.list(node)
		w.pdf.Ln(1)

	case *ast.Blockquote:
		w.indent += indentStep
		w.pdf.SetTextColor(90, 90, 90)
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			w.block(c)
		}
		w.pdf.SetTextColor(0, 0, 0)
		w.indent -= indentStep

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		var sb strings.Builder
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			sb.Write(seg.Value(w.src))
		}
		w.pdf.SetFont(codeFont, "", 9)
		w.pdf.SetFillColor(245, 245, 245)
		w.pdf.SetX(w.pdf.GetX() + w.indent)
		w.pdf.MultiCell(0, 5, w.tr(strings.TrimRight(sb.String(), "\n")), "", "L", true)
		w.pdf.Ln(2)

	case *ast.ThematicBreak:
		left, _, right, _ := w.pdf.GetMargins()
		pageW, _ := w.pdf.GetPageSize()
		y := w.pdf.GetY() + 2
		w.pdf.Line(left, y, pageW-right, y)
		w.pdf.Ln(5)

	case *extast.Table:
		w.table(node)
		w.pdf.Ln(2)

	default:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			w.block(c)
		}
	}
}

func (w *pdfWriter) list(l *ast.List) {
	num := l.Start
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "-"
		if l.IsOrdered() {
			marker = fmt.Sprintf("%d.", num)
			num++
		}
		first := true
		w.indent += indentStep
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			if first && (c.Kind() == ast.KindTextBlock || c.Kind() == ast.KindParagraph) {
				w.para("", 11, marker+" "+inlineText(c, w.src))
				first = false
				continue
			}
			first = false
			w.block(c)
		}
		w.indent -= indentStep
	}
}

func (w *pdfWriter) table(t *extast.Table) {
	var rows [][]string
	for r := t.FirstChild(); r != nil; r = r.NextSibling() {
		var cells []string
		for c := r.FirstChild(); c != nil; c = c.NextSibling() {
			cells = append(cells, inlineText(c, w.src))
		}
		rows = append(rows, cells)
	}
	if len(rows) == 0 || len(rows[0]) == 0 {
		return
	}

	left, _, right, _ := w.pdf.GetMargins()
	pageW, _ := w.pdf.GetPageSize()
	colW := (pageW - left - right) / float64(len(rows[0]))
	w.pdf.SetFillColor(230, 230, 230)
	for i, cells := range rows {
		style := ""
		if i == 0 {
			style = "B"
		}
		w.pdf.SetFont(bodyFont, style, 9)
		for j := range rows[0] {
			cell := ""
			if j < len(cells) {
				cell = cells[j]
			}
			w.pdf.CellFormat(colW, 7, w.tr(cell), "1", 0, "L", i == 0, 0, "")
		}
		w.pdf.Ln(-1)
	}
}

// inlineText flattens the inline children of a node into plain text.
func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			switch t := c.(type) {
			case *ast.Text:
				sb.Write(t.Segment.Value(src))
				if t.SoftLineBreak() || t.HardLineBreak() {
					sb.WriteByte(' ')
				}
			case *ast.String:
				sb.Write(t.Value)
			case *ast.Image:
				sb.WriteString("[")
				walk(t)
				sb.WriteString("]")
			default:
				walk(c)
			}
		}
	}
	walk(n)
	return strings.TrimSpace(sb.String())
}
