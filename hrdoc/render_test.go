package hrdoc

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
	"unicode/utf16"

	"repairflow/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderProducesPDF(t *testing.T) {
	content, err := Render(Sheet{
		Type:         TypeEmploymentCertificate,
		DocumentID:   7,
		ContractorID: 40,
		IssuedBy:     60,
		IssuedAt:     time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC),
		Body:         "This certifies that contractor #40 is engaged.\n\nValid for one year.",
	})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(content, []byte("%PDF-")))
	assert.Len(t, digest(content), 64)
}

// utf16be matches how gofpdf writes text set in a UTF-8 font.
func utf16be(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 2*len(units))
	for i, u := range units {
		binary.BigEndian.PutUint16(out[2*i:], u)
	}
	return out
}

func TestRenderKeepsCyrillic(t *testing.T) {
	sheet := Sheet{
		Type:         TypeAccessPermit,
		DocumentID:   9,
		ContractorID: 41,
		IssuedBy:     60,
		IssuedAt:     time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC),
		Body:         "Справка о допуске",
	}

	content, err := Render(sheet)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(content, []byte("%PDF-")))
	assert.Contains(t, string(content), "/Identity-H")
	assert.Contains(t, string(content), "/FontFile2")

	plain, err := render(sheet, false)
	require.NoError(t, err)
	assert.True(t, bytes.Contains(plain, utf16be("Справка о допуске")), "body text missing from page stream")
	assert.False(t, bytes.Contains(plain, []byte("(....... . .......)")))
}

func TestRenderRejectsInvalidUTF8(t *testing.T) {
	_, err := Render(Sheet{Type: TypeAccessPermit, Body: "ok \xff\xfe"})
	assert.ErrorIs(t, err, ErrContentEncoding)
	assert.ErrorIs(t, err, apperr.ErrPreconditionFailed)
}
