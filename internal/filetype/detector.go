package filetype

import (
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

const PDFMimeType = "application/pdf"

// FileTypeInfo contains detected file type information
type FileTypeInfo struct {
	MIMEType  string
	Extension string
	Supported bool
}

// UnsupportedTypeError is returned by RequirePDF for anything but a PDF.
type UnsupportedTypeError struct {
	Name     string
	MIMEType string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("%s is %s, only PDF documents are accepted", e.Name, e.MIMEType)
}

// Detector handles file type detection using magic bytes
type Detector struct{}

// New creates a new file type detector
func New() *Detector {
	return &Detector{}
}

// DetectReader sniffs the head of r using magic bytes, not the filename.
func (d *Detector) DetectReader(r io.Reader) (*FileTypeInfo, error) {
	mtype, err := mimetype.DetectReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	return classify(mtype), nil
}

// RequirePDF fails with *UnsupportedTypeError unless r holds a PDF. It reads
// from r, so callers rewind before reusing it.
func (d *Detector) RequirePDF(r io.Reader, name string) (*FileTypeInfo, error) {
	info, err := d.DetectReader(r)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("mime", info.MIMEType).Str("ext", info.Extension).Str("file", name).Msg("detected file type")
	if !info.Supported {
		return info, &UnsupportedTypeError{Name: name, MIMEType: info.MIMEType}
	}
	return info, nil
}

func classify(mtype *mimetype.MIME) *FileTypeInfo {
	return &FileTypeInfo{
		MIMEType:  mtype.String(),
		Extension: mtype.Extension(),
		Supported: mtype.Is(PDFMimeType),
	}
}
