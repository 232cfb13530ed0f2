package pdf

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/local/pdfdispatcher/internal/selection"
)

// Engine is the PDF capability the transformer drives.
type Engine interface {
	PageCount(path string) (int, error)
	Merge(inputs []string, out string) error
	Extract(input, out string, pr selection.PageRange) error
}

// PdfcpuEngine implements Engine on top of pdfcpu's file API. pdfcpu records
// the running command on the configuration, so every call gets its own.
type PdfcpuEngine struct{}

func NewPdfcpuEngine() *PdfcpuEngine {
	api.DisableConfigDir()
	return &PdfcpuEngine{}
}

func (e *PdfcpuEngine) config() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (e *PdfcpuEngine) PageCount(path string) (int, error) {
	n, err := api.PageCountFile(path)
	if err != nil {
		return 0, fmt.Errorf("pdf page count failed: %w", err)
	}
	if n < 1 {
		return 0, fmt.Errorf("pdf has no pages")
	}
	return n, nil
}

func (e *PdfcpuEngine) Merge(inputs []string, out string) error {
	if err := api.MergeCreateFile(inputs, out, false, e.config()); err != nil {
		return fmt.Errorf("pdf merge failed: %w", err)
	}
	return nil
}

func (e *PdfcpuEngine) Extract(input, out string, pr selection.PageRange) error {
	if err := api.TrimFile(input, out, []string{pr.Selector()}, e.config()); err != nil {
		return fmt.Errorf("pdf extract %s failed: %w", pr.Label(), err)
	}
	return nil
}
