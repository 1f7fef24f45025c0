package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/ashureev/smartfin/internal/domain"
	"github.com/klauspost/compress/zip"
	"github.com/xuri/excelize/v2"
)

// Format identifies an uploaded file type.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatXML  Format = "xml"
	FormatZip  Format = "zip"
)

// DefaultMaxBytes is the upload cap when none is configured.
const DefaultMaxBytes = 100 << 20

// Upload is a file received from a client.
type Upload struct {
	Filename    string
	ContentType string
	// Size is the declared size, or -1 when unknown.
	Size      int64
	Body      io.Reader
	Separator string
}

// Result is a parsed upload: either a table or a semi-structured document
// that must be routed to the extraction agent.
type Result struct {
	Format Format
	// Archive is set when the file was unpacked from a zip.
	Archive  bool
	Source   string
	Frame    *Frame
	Document string
}

// Tabular reports whether the result carries a table.
func (r *Result) Tabular() bool { return r.Frame != nil }

// Parser decodes uploads within a byte budget.
type Parser struct {
	MaxBytes int64
}

// NewParser returns a parser enforcing maxBytes (DefaultMaxBytes when <= 0).
func NewParser(maxBytes int64) *Parser {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Parser{MaxBytes: maxBytes}
}

// DetectFormat resolves the format from the content type, falling back to
// the file extension for generic types like application/octet-stream.
func DetectFormat(filename, contentType string) (Format, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "application/zip", "application/x-zip-compressed":
		return FormatZip, nil
	case "text/csv", "application/csv":
		return FormatCSV, nil
	case "application/vnd.ms-excel", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return FormatXLSX, nil
	case "application/xml", "text/xml":
		return FormatXML, nil
	}

	switch strings.ToLower(path.Ext(filename)) {
	case ".zip":
		return FormatZip, nil
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xls":
		return FormatXLSX, nil
	case ".xml":
		return FormatXML, nil
	}

	kind := mediaType
	if _, sub, ok := strings.Cut(mediaType, "/"); ok {
		kind = sub
	}
	if kind == "" {
		kind = path.Ext(filename)
	}
	return "", domain.NewError(domain.KindUnsupportedFileType, fmt.Sprintf(
		"Unsupported file type: %s. Please upload a XLSX, CSV or ZIP file containing one of them.", kind))
}

// Parse reads and decodes an upload. The size cap is checked before any
// decoding starts.
func (p *Parser) Parse(u Upload) (*Result, error) {
	if u.Size > p.MaxBytes {
		return nil, p.tooLarge()
	}
	format, err := DetectFormat(u.Filename, u.ContentType)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(io.LimitReader(u.Body, p.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > p.MaxBytes {
		return nil, p.tooLarge()
	}

	if format == FormatZip {
		return p.parseZip(data, u.Separator)
	}
	return decode(format, u.Filename, data, u.Separator)
}

func (p *Parser) tooLarge() error {
	return domain.NewError(domain.KindFileTooLarge,
		fmt.Sprintf("Max file size exceeded: %d MB.", p.MaxBytes>>20))
}

func (p *Parser) parseZip(data []byte, separator string) (*Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, domain.WrapError(domain.KindMalformedArchive, "The uploaded file is not a valid zip archive.", err)
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") {
			continue
		}
		format, err := DetectFormat(f.Name, "")
		if err != nil || format == FormatZip {
			continue
		}
		if f.UncompressedSize64 > uint64(p.MaxBytes) {
			return nil, p.tooLarge()
		}

		rc, err := f.Open()
		if err != nil {
			return nil, domain.WrapError(domain.KindMalformedArchive, "Could not open "+f.Name+" in the zip archive.", err)
		}
		body, err := io.ReadAll(io.LimitReader(rc, p.MaxBytes+1))
		_ = rc.Close()
		if err != nil {
			return nil, domain.WrapError(domain.KindMalformedArchive, "Could not read "+f.Name+" in the zip archive.", err)
		}
		if int64(len(body)) > p.MaxBytes {
			return nil, p.tooLarge()
		}

		res, err := decode(format, f.Name, body, separator)
		if err != nil {
			return nil, err
		}
		res.Archive = true
		return res, nil
	}
	return nil, domain.NewError(domain.KindMalformedArchive, "No CSV, XML or XLSX file found in the zip archive.")
}

func decode(format Format, name string, data []byte, separator string) (*Result, error) {
	res := &Result{Format: format, Source: name}
	var err error
	switch format {
	case FormatCSV:
		res.Frame, err = ReadCSV(bytes.NewReader(data), separator)
	case FormatXLSX:
		res.Frame, err = ReadXLSX(bytes.NewReader(data))
	case FormatXML:
		if !utf8.Valid(data) {
			return nil, domain.NewError(domain.KindInvalidInput, "XML documents must be UTF-8 encoded.")
		}
		res.Document = string(data)
	default:
		return nil, domain.NewError(domain.KindUnsupportedFileType, "Unsupported file type: "+string(format))
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// separatorRune maps the separator query parameter to a CSV delimiter.
func separatorRune(sep string) (rune, error) {
	switch sep {
	case "", ",":
		return ',', nil
	case `\t`, "tab", "\t":
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(sep)
	if size != len(sep) || r == utf8.RuneError || r == '"' || r == '\n' || r == '\r' {
		return 0, domain.NewError(domain.KindInvalidInput, fmt.Sprintf("Invalid CSV separator: %q", sep))
	}
	return r, nil
}

// ReadCSV decodes a CSV table whose first line is the header.
func ReadCSV(r io.Reader, separator string) (*Frame, error) {
	comma, err := separatorRune(separator)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(r)
	cr.Comma = comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, domain.WrapError(domain.KindInvalidInput, "Could not parse the CSV file. Check the separator.", err)
	}
	if len(records) == 0 {
		return nil, domain.NewError(domain.KindInvalidInput, "The CSV file is empty.")
	}
	frame, err := newFrame(records[0], records[1:])
	if err != nil {
		return nil, domain.WrapError(domain.KindInvalidInput, "The CSV file has no header.", err)
	}
	return frame, nil
}

// ReadXLSX decodes the first worksheet of a workbook.
func ReadXLSX(r io.Reader) (*Frame, error) {
	wb, err := excelize.OpenReader(r)
	if err != nil {
		if errors.Is(err, excelize.ErrWorkbookFileFormat) {
			return nil, domain.WrapError(domain.KindUnsupportedFileType,
				"Unsupported spreadsheet format. Please save the file as XLSX.", err)
		}
		return nil, domain.WrapError(domain.KindInvalidInput, "Could not open the spreadsheet.", err)
	}
	defer func() { _ = wb.Close() }()

	sheets := wb.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.NewError(domain.KindInvalidInput, "The spreadsheet has no worksheets.")
	}
	rows, err := wb.GetRows(sheets[0])
	if err != nil {
		return nil, domain.WrapError(domain.KindInvalidInput, "Could not read the worksheet.", err)
	}
	if len(rows) == 0 {
		return nil, domain.NewError(domain.KindInvalidInput, "The worksheet is empty.")
	}
	frame, err := newFrame(rows[0], rows[1:])
	if err != nil {
		return nil, domain.WrapError(domain.KindInvalidInput, "The worksheet has no header.", err)
	}
	return frame, nil
}
