// Package formfill turns collected form data into a document the user can
// download once they confirmed it.
//
// The bundled [FDFFiller] writes Forms Data Format: a small PDF companion
// file that carries field name/value pairs and points at the blank template.
// Opening it in a PDF reader imports the values into the template's fields.
package formfill

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf16"

	"github.com/MrWong99/voiceform/pkg/form"
)

// Filler renders filled form documents.
type Filler interface {
	// Fill writes the document for values to w. Unset values are omitted.
	Fill(ctx context.Context, w io.Writer, values map[string]string) error

	// ContentType is the media type of the written document.
	ContentType() string

	// FileName is the suggested download name.
	FileName() string
}

var _ Filler = (*FDFFiller)(nil)

// FDFFiller writes FDF documents for a PDF template.
type FDFFiller struct {
	template string
	schema   form.Schema
	name     string
}

// FDFOption configures an FDFFiller.
type FDFOption func(*FDFFiller)

// WithSchema restricts and orders the written fields. Without a schema all
// set values are written in name order.
func WithSchema(s form.Schema) FDFOption {
	return func(f *FDFFiller) { f.schema = s }
}

// WithFileName overrides the download name.
func WithFileName(name string) FDFOption {
	return func(f *FDFFiller) {
		if name != "" {
			f.name = name
		}
	}
}

// NewFDF returns a filler whose documents reference the PDF at template.
// Only the base name is embedded so the FDF can sit next to the template.
func NewFDF(template string, opts ...FDFOption) *FDFFiller {
	f := &FDFFiller{
		template: filepath.Base(template),
		name:     "Merchant_Form_Filled.fdf",
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// ContentType implements [Filler].
func (f *FDFFiller) ContentType() string { return "application/vnd.fdf" }

// FileName implements [Filler].
func (f *FDFFiller) FileName() string { return f.name }

// Fill implements [Filler].
func (f *FDFFiller) Fill(ctx context.Context, w io.Writer, values map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	bw.WriteString("%FDF-1.2\n%\xe2\xe3\xcf\xd3\n1 0 obj\n<<\n/FDF <<\n")
	if f.template != "" && f.template != "." {
		fmt.Fprintf(bw, "/F %s\n", pdfString(f.template))
	}
	bw.WriteString("/Fields [\n")
	for _, name := range f.fieldOrder(values) {
		v := values[name]
		if form.IsUnset(v) {
			continue
		}
		fmt.Fprintf(bw, "<< /T %s /V %s >>\n", pdfString(name), pdfString(strings.TrimSpace(v)))
	}
	bw.WriteString("]\n>>\n>>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("formfill: write fdf: %w", err)
	}
	return nil
}

func (f *FDFFiller) fieldOrder(values map[string]string) []string {
	if len(f.schema) > 0 {
		out := make([]string, 0, len(values))
		for _, name := range f.schema {
			if _, ok := values[name]; ok {
				out = append(out, name)
			}
		}
		return out
	}
	out := make([]string, 0, len(values))
	for name := range values {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// pdfString encodes s as a PDF string object. ASCII text becomes a literal
// string with delimiters escaped; anything else is UTF-16BE hex with a BOM.
func pdfString(s string) string {
	ascii := true
	for i := 0; i < len(s); i++ {
		if c := s[i]; c >= 0x80 || (c < 0x20 && c != '\t') {
			ascii = false
			break
		}
	}
	if ascii {
		r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
		return "(" + r.Replace(s) + ")"
	}

	var b strings.Builder
	b.WriteString("<FEFF")
	for _, u := range utf16.Encode([]rune(s)) {
		fmt.Fprintf(&b, "%04X", u)
	}
	b.WriteByte('>')
	return b.String()
}
