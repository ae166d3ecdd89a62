// Package export writes search results to CSV, text or XLSX files.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
	"github.com/XuanZiK/V-knowledge/internal/store"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatText Format = "txt"
	FormatXLSX Format = "xlsx"
)

// Header is the column header shared by CSV and XLSX exports.
var Header = []string{"Similarity", "Document", "Content"}

const (
	separator = "--------------------------------------------------"
	sheetName = "Results"
)

// FormatFor picks the format from the file extension. Anything that is not
// .csv or .xlsx is written as text.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV
	case ".xlsx":
		return FormatXLSX
	default:
		return FormatText
	}
}

// Score formats a similarity the way results are displayed.
func Score(s float32) string {
	return fmt.Sprintf("%.4f", s)
}

// WriteFile exports hits to path in the format implied by its extension.
// An empty result set is rejected.
func WriteFile(path string, hits []store.Hit) error {
	if len(hits) == 0 {
		return vkberrors.ValidationError("no search results to export", nil)
	}

	f, err := os.Create(path)
	if err != nil {
		return vkberrors.New(vkberrors.ErrCodeFilePermission, fmt.Sprintf("cannot create %s", path), err)
	}
	if err := Encode(f, FormatFor(path), hits); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return vkberrors.InternalError("close export file", err)
	}
	return nil
}

// Encode writes hits to w.
func Encode(w io.Writer, format Format, hits []store.Hit) error {
	switch format {
	case FormatCSV:
		return encodeCSV(w, hits)
	case FormatXLSX:
		return encodeXLSX(w, hits)
	case FormatText:
		return encodeText(w, hits)
	default:
		return vkberrors.ValidationError(fmt.Sprintf("unknown export format %q", format), nil)
	}
}

func encodeCSV(w io.Writer, hits []store.Hit) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return vkberrors.InternalError("write csv header", err)
	}
	for _, h := range hits {
		if err := cw.Write([]string{Score(h.Score), h.Document, h.Text}); err != nil {
			return vkberrors.InternalError("write csv row", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return vkberrors.InternalError("flush csv", err)
	}
	return nil
}

func encodeText(w io.Writer, hits []store.Hit) error {
	for _, h := range hits {
		_, err := fmt.Fprintf(w, "Similarity: %s\nDocument: %s\nContent: %s\n%s\n",
			Score(h.Score), h.Document, h.Text, separator)
		if err != nil {
			return vkberrors.InternalError("write text export", err)
		}
	}
	return nil
}

func encodeXLSX(w io.Writer, hits []store.Hit) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return vkberrors.InternalError("name xlsx sheet", err)
	}
	if err := f.SetSheetRow(sheetName, "A1", &Header); err != nil {
		return vkberrors.InternalError("write xlsx header", err)
	}
	for i, h := range hits {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return vkberrors.InternalError("xlsx cell name", err)
		}
		row := []any{float64(h.Score), h.Document, h.Text}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return vkberrors.InternalError("write xlsx row", err)
		}
	}
	if err := f.SetColWidth(sheetName, "C", "C", 80); err != nil {
		return vkberrors.InternalError("size xlsx column", err)
	}
	if _, err := f.WriteTo(w); err != nil {
		return vkberrors.InternalError("write xlsx", err)
	}
	return nil
}
