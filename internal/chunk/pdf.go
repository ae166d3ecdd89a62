package chunk

import (
	"context"
	"fmt"

	"github.com/ledongthuc/pdf"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

// PDFStrategy produces one unit per page.
type PDFStrategy struct{}

// NewPDFStrategy returns a PDF page splitter.
func NewPDFStrategy() *PDFStrategy { return &PDFStrategy{} }

// Type implements Strategy.
func (s *PDFStrategy) Type() ChunkType { return ChunkTypePage }

// Units implements Strategy. Pages whose text cannot be extracted become
// empty units and are skipped by the Chunker.
func (s *PDFStrategy) Units(ctx context.Context, path string) (units []Unit, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			units = nil
			err = vkberrors.DecodeError(path, fmt.Errorf("pdf parser: %v", r))
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, vkberrors.DecodeError(path, err)
	}
	defer func() { _ = f.Close() }()

	n := r.NumPage()
	units = make([]Unit, 0, n)
	for i := 1; i <= n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		units = append(units, Unit{Text: pageText(r, i), PageNumber: i})
	}
	return units, nil
}

func pageText(r *pdf.Reader, i int) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	p := r.Page(i)
	if p.V.IsNull() {
		return ""
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}
