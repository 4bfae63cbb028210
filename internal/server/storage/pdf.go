package storage

import (
	"bytes"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/dmitrijs2005/letterflow/internal/common"
)

// MaxPDFSize bounds an uploaded letter document.
const MaxPDFSize = 20 << 20

// InspectPDF validates data as a PDF and returns its page count.
func InspectPDF(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, common.Invalid("file", "empty upload")
	}
	if len(data) > MaxPDFSize {
		return 0, common.Invalid("file", "upload exceeds %d bytes", MaxPDFSize)
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	if err := api.Validate(bytes.NewReader(data), conf); err != nil {
		return 0, common.Invalid("file", "not a valid PDF: %v", err)
	}
	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return 0, common.Invalid("file", "cannot count pages: %v", err)
	}
	if pages < 1 {
		return 0, common.Invalid("file", "document has no pages")
	}
	return pages, nil
}
