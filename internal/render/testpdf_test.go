package render

import (
	"bytes"
	"fmt"
)

// newTestPDF assembles a minimal one-page 6x4 inch PDF with a correct xref
// table, so engine tests exercise a real document without a file fixture.
func newTestPDF() []byte {
	var buf bytes.Buffer
	offsets := make([]int, 0, 4)

	write := func(s string) {
		buf.WriteString(s)
	}
	object := func(s string) {
		offsets = append(offsets, buf.Len())
		write(s)
	}

	write("%PDF-1.4\n")
	object("1 0 obj\n<</Type /Catalog /Pages 2 0 R>>\nendobj\n")
	object("2 0 obj\n<</Type /Pages /Kids [3 0 R] /Count 1>>\nendobj\n")
	object("3 0 obj\n<</Type /Page /Parent 2 0 R /MediaBox [0 0 432 288] /Resources <<>> /Contents 4 0 R>>\nendobj\n")
	object("4 0 obj\n<</Length 6>>\nstream\n0.5 g\nendstream\nendobj\n")

	xrefOffset := buf.Len()
	write("xref\n0 5\n")
	write("0000000000 65535 f \n")
	for _, off := range offsets {
		write(fmt.Sprintf("%010d 00000 n \n", off))
	}
	write("trailer\n<</Size 5 /Root 1 0 R>>\n")
	write(fmt.Sprintf("startxref\n%d\n%%%%EOF\n", xrefOffset))

	return buf.Bytes()
}
