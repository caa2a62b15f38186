package hrdoc

import (
	"bytes"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jung-kurt/gofpdf"
)

//go:embed fonts/*.ttf
var fonts embed.FS

const fontFamily = "DejaVu"

// Registration order fixes font object numbering, keeping output stable.
var fontFaces = []struct{ style, file string }{
	{"", "fonts/DejaVuSansCondensed.ttf"},
	{"B", "fonts/DejaVuSansCondensed-Bold.ttf"},
	{"I", "fonts/DejaVuSansCondensed-Oblique.ttf"},
}

// Sheet is what gets printed on a document.
type Sheet struct {
	Type         Type
	DocumentID   int64
	ContractorID int64
	IssuedBy     int64
	IssuedAt     time.Time
	Body         string
}

// Render produces the PDF for sheet. Text is set in an embedded Unicode font,
// so Cyrillic and other non-Latin bodies survive intact.
func Render(sheet Sheet) ([]byte, error) {
	return render(sheet, true)
}

func render(sheet Sheet, compress bool) ([]byte, error) {
	if !utf8.ValidString(sheet.Body) {
		return nil, ErrContentEncoding
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(compress)
	for _, f := range fontFaces {
		face, err := fonts.ReadFile(f.file)
		if err != nil {
			return nil, fmt.Errorf("hrdoc: load font %s: %w", f.file, err)
		}
		pdf.AddUTF8FontFromBytes(fontFamily, f.style, face)
	}
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetTitle(sheet.Type.Title(), true)
	pdf.SetCreator("repairflow", true)
	pdf.SetCreationDate(sheet.IssuedAt)
	pdf.AddPage()

	pdf.SetFont(fontFamily, "B", 16)
	pdf.CellFormat(0, 10, sheet.Type.Title(), "", 1, "C", false, 0, "")

	pdf.SetFont(fontFamily, "", 9)
	pdf.SetTextColor(100, 100, 100)
	pdf.CellFormat(0, 6, fmt.Sprintf("Document #%d  Contractor #%d", sheet.DocumentID, sheet.ContractorID), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, "Issued "+sheet.IssuedAt.UTC().Format("2006-01-02"), "", 1, "R", false, 0, "")
	pdf.Ln(6)

	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont(fontFamily, "", 11)
	for _, para := range strings.Split(strings.TrimSpace(sheet.Body), "\n\n") {
		pdf.MultiCell(0, 6, para, "", "L", false)
		pdf.Ln(3)
	}

	pdf.Ln(12)
	pdf.SetFont(fontFamily, "I", 9)
	pdf.CellFormat(0, 6, fmt.Sprintf("Issued by HR officer #%d", sheet.IssuedBy), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("hrdoc: render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func documentPath(d Document) string {
	return fmt.Sprintf("hr-documents/%d/%d-%s.pdf", d.ContractorID, d.ID, d.Type)
}
