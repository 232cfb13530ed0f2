// Package pdftest writes small, valid PDF fixtures for tests. Each page's
// MediaBox width doubles as its identity so tests can check page order after
// a merge or split without text extraction.
package pdftest

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageHeight is the MediaBox height of every generated page.
const PageHeight = 792

// Widths returns n consecutive page widths starting at first.
func Widths(first, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = first + i
	}
	return out
}

// Document renders a PDF with one page per width.
func Document(widths ...int) []byte {
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")

	n := len(widths)
	kids := make([]byte, 0, n*8)
	for i := 0; i < n; i++ {
		kids = fmt.Appendf(kids, "%d 0 R ", 3+2*i)
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", bytes.TrimSpace(kids), n))
	for i, w := range widths {
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %d %d] /Resources << >> /Contents %d 0 R >>", w, PageHeight, 4+2*i))
		content := fmt.Sprintf("0 0 m %d %d l S", w, PageHeight)
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)
	return buf.Bytes()
}

// Corrupt looks like a PDF to a magic-byte sniffer but does not parse.
func Corrupt() []byte {
	return []byte("%PDF-1.4\nthis file was truncated before the first object\n")
}

// Write stores a fixture under dir and returns its path.
func Write(tb testing.TB, dir, name string, widths ...int) string {
	tb.Helper()
	return WriteBytes(tb, dir, name, Document(widths...))
}

// WriteBytes stores raw content under dir and returns its path.
func WriteBytes(tb testing.TB, dir, name string, content []byte) string {
	tb.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		tb.Fatalf("write fixture %s: %v", name, err)
	}
	return path
}

// PageWidths reads back the page widths of the PDF at path, in page order.
func PageWidths(tb testing.TB, path string) []int {
	tb.Helper()
	dims, err := api.PageDimsFile(path)
	if err != nil {
		tb.Fatalf("page dims %s: %v", path, err)
	}
	out := make([]int, len(dims))
	for i, d := range dims {
		out[i] = int(math.Round(d.Width))
	}
	return out
}
