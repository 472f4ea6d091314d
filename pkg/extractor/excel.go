package extractor

import (
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/ajitpratap0/ledgerline/pkg/connector"
	"github.com/ajitpratap0/ledgerline/pkg/errors"
)

type excelSource struct {
	file    *excelize.File
	rows    *excelize.Rows
	pending []string
	peeked  bool
}

// NewExcel creates an extractor for an xlsx workbook. The configured sheet
// is read, or the first sheet when none is set.
func NewExcel(h *connector.Handle, opts Options) (*Stream, error) {
	if err := requireReader("excel", h); err != nil {
		return nil, err
	}

	f, err := excelize.OpenReader(h.Reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "failed to open workbook")
	}

	sheet := opts.Sheet
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			f.Close()
			return nil, errors.New(errors.ErrorTypeFile, "workbook has no sheets")
		}
		sheet = sheets[0]
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open sheet "+sheet)
	}

	return newStream("excel", opts, &excelSource{file: f, rows: rows}), nil
}

func (e *excelSource) next() ([]string, error) {
	if !e.rows.Next() {
		if err := e.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return e.rows.Columns()
}

func (e *excelSource) peekHeaders() ([]string, error) {
	cols, err := e.next()
	if err != nil {
		return nil, err
	}
	e.pending, e.peeked = cols, true
	return append([]string(nil), cols...), nil
}

func (e *excelSource) bind([]string) {}

func (e *excelSource) read() (RawRow, error) {
	cols := e.pending
	if e.peeked {
		e.pending, e.peeked = nil, false
	} else {
		var err error
		if cols, err = e.next(); err != nil {
			return nil, err
		}
	}
	return toRaw(cols), nil
}

func (e *excelSource) close() error {
	err := e.rows.Close()
	if cerr := e.file.Close(); err == nil {
		err = cerr
	}
	return err
}
