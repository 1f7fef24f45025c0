package dataset

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ashureev/smartfin/internal/domain"
	"github.com/klauspost/compress/zip"
	"github.com/xuri/excelize/v2"
)

const salesCSV = "produto;quantidade;valor\nParafuso;10;1.5\nPorca;;0.75\nArruela;5;abc\n"

func assertKind(t *testing.T, err error, want domain.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s error, got nil", want)
	}
	if got := domain.KindOf(err); got != want {
		t.Fatalf("Expected %s error, got %s (%v)", want, got, err)
	}
}

func TestParseCSV(t *testing.T) {
	p := NewParser(0)
	res, err := p.Parse(Upload{
		Filename:    "vendas.csv",
		ContentType: "text/csv",
		Size:        int64(len(salesCSV)),
		Body:        strings.NewReader(salesCSV),
		Separator:   ";",
	})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !res.Tabular() || res.Format != FormatCSV {
		t.Fatalf("Expected tabular csv result, got %+v", res)
	}

	f := res.Frame
	if got := strings.Join(f.Columns, ","); got != "produto,quantidade,valor" {
		t.Errorf("Columns = %s", got)
	}
	if f.NumRows() != 3 {
		t.Fatalf("Expected 3 rows, got %d", f.NumRows())
	}
	if f.Rows[0][1] != 10.0 {
		t.Errorf("Expected numeric cell, got %#v", f.Rows[0][1])
	}
	if f.Rows[1][1] != nil {
		t.Errorf("Expected missing cell, got %#v", f.Rows[1][1])
	}
	if f.Rows[2][2] != "abc" {
		t.Errorf("Expected string cell, got %#v", f.Rows[2][2])
	}
	if !f.IsNumeric(1) || f.IsNumeric(2) {
		t.Error("Unexpected column type detection")
	}
}

func TestParseUsesExtensionForOctetStream(t *testing.T) {
	p := NewParser(0)
	res, err := p.Parse(Upload{
		Filename:    "dados.csv",
		ContentType: "application/octet-stream",
		Size:        -1,
		Body:        strings.NewReader("a,b\n1,2\n"),
	})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if res.Frame.NumRows() != 1 {
		t.Errorf("Expected 1 row, got %d", res.Frame.NumRows())
	}
}

func TestParseRejectsUnsupportedType(t *testing.T) {
	_, err := NewParser(0).Parse(Upload{
		Filename:    "photo.png",
		ContentType: "image/png",
		Body:        strings.NewReader("png"),
	})
	assertKind(t, err, domain.KindUnsupportedFileType)
	if !strings.Contains(err.Error(), "png") {
		t.Errorf("Expected file type in message, got %q", err.Error())
	}
}

func TestParseRejectsOversizedUpload(t *testing.T) {
	p := NewParser(8)

	_, err := p.Parse(Upload{Filename: "a.csv", ContentType: "text/csv", Size: 9, Body: strings.NewReader("")})
	assertKind(t, err, domain.KindFileTooLarge)

	// Undeclared size is still capped while reading.
	_, err = p.Parse(Upload{Filename: "a.csv", ContentType: "text/csv", Size: -1, Body: strings.NewReader("a,b\n1,2\n3,4\n")})
	assertKind(t, err, domain.KindFileTooLarge)
}

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create: %v", err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatalf("zip write: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestParseZip(t *testing.T) {
	data := buildZip(t, map[string]string{
		"readme.txt": "ignored",
		"notas.csv":  "a,b\n1,2\n",
	})

	res, err := NewParser(0).Parse(Upload{
		Filename:    "notas.zip",
		ContentType: "application/zip",
		Size:        int64(len(data)),
		Body:        bytes.NewReader(data),
	})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !res.Archive || res.Source != "notas.csv" {
		t.Errorf("Unexpected result: %+v", res)
	}
	if res.Frame.NumRows() != 1 {
		t.Errorf("Expected 1 row, got %d", res.Frame.NumRows())
	}
}

func TestParseZipRoutesXML(t *testing.T) {
	data := buildZip(t, map[string]string{"nfe.xml": "<NFe/>"})

	res, err := NewParser(0).Parse(Upload{Filename: "nfe.zip", ContentType: "application/zip", Body: bytes.NewReader(data)})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if res.Tabular() || res.Document != "<NFe/>" {
		t.Errorf("Expected XML document, got %+v", res)
	}
}

func TestParseMalformedZip(t *testing.T) {
	p := NewParser(0)

	_, err := p.Parse(Upload{Filename: "x.zip", ContentType: "application/zip", Body: strings.NewReader("not a zip")})
	assertKind(t, err, domain.KindMalformedArchive)

	empty := buildZip(t, map[string]string{"notes.txt": "nothing"})
	_, err = p.Parse(Upload{Filename: "x.zip", ContentType: "application/zip", Body: bytes.NewReader(empty)})
	assertKind(t, err, domain.KindMalformedArchive)

	var derr *domain.Error
	if !errors.As(err, &derr) || !strings.Contains(derr.Message, "No CSV") {
		t.Errorf("Unexpected message: %v", err)
	}
}

func TestParseXLSX(t *testing.T) {
	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)
	_ = wb.SetCellValue(sheet, "A1", "cliente")
	_ = wb.SetCellValue(sheet, "B1", "total")
	_ = wb.SetCellValue(sheet, "A2", "ACME")
	_ = wb.SetCellValue(sheet, "B2", 123.45)
	buf, err := wb.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	res, err := NewParser(0).Parse(Upload{
		Filename:    "clientes.xlsx",
		ContentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		Body:        bytes.NewReader(buf.Bytes()),
	})
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if res.Frame.ColumnIndex("total") != 1 {
		t.Errorf("Unexpected columns: %v", res.Frame.Columns)
	}
	if res.Frame.Rows[0][1] != 123.45 {
		t.Errorf("Expected 123.45, got %#v", res.Frame.Rows[0][1])
	}
}

func TestSeparatorValidation(t *testing.T) {
	for _, sep := range []string{"", ",", ";", "|", `\t`} {
		if _, err := separatorRune(sep); err != nil {
			t.Errorf("separator %q rejected: %v", sep, err)
		}
	}
	for _, sep := range []string{";;", `"`} {
		if _, err := separatorRune(sep); err == nil {
			t.Errorf("separator %q accepted", sep)
		}
	}
}
