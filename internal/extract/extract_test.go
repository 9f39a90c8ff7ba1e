package extract

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func paragraph(prefix, text string) string {
	return "<" + prefix + ":p><" + prefix + ":r><" + prefix + ":t>" + text + "</" + prefix + ":t></" + prefix + ":r></" + prefix + ":p>"
}

func TestExtractText(t *testing.T) {
	raw := "Title\r\nCafe\u0301 notes\xff\n"
	res, err := New().Extract("notes.TXT", strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Title\nCaf\u00e9 notes\n", res.Text)
	assert.Equal(t, 0, res.Pages)
}

func TestExtractDOCX(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
		paragraph("w", "Header") +
		`<w:p><w:r><w:t>Body</w:t><w:tab/><w:t>more</w:t></w:r></w:p>` +
		paragraph("w", "Header") +
		`</w:body></w:document>`
	data := buildZip(t, map[string]string{
		"[Content_Types].xml": "<Types/>",
		"word/document.xml":   doc,
	})

	res, err := New().Extract("lecture.docx", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "Header\nBody more\nHeader\n", res.Text)
}

func TestExtractDOCXMissingBody(t *testing.T) {
	data := buildZip(t, map[string]string{"word/styles.xml": "<styles/>"})
	_, err := New().Extract("empty.docx", bytes.NewReader(data))
	assert.Error(t, err)
}

func TestExtractPPTXSlideOrder(t *testing.T) {
	slide := func(text string) string {
		return `<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main" ` +
			`xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"><p:cSld><p:spTree><p:sp><p:txBody>` +
			paragraph("a", text) +
			`</p:txBody></p:sp></p:spTree></p:cSld></p:sld>`
	}
	data := buildZip(t, map[string]string{
		"ppt/slides/slide10.xml":            slide("Tenth"),
		"ppt/slides/slide2.xml":             slide("Second"),
		"ppt/slides/slide1.xml":             slide("Intro"),
		"ppt/slides/_rels/slide1.xml.rels":  "<Relationships/>",
		"ppt/slideLayouts/slideLayout1.xml": slide("Layout"),
	})

	res, err := New().Extract("deck.pptx", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "Intro\nSecond\nTenth\n", res.Text)
	assert.Equal(t, 3, res.Pages)
}

func TestExtractRejectsLegacyFormats(t *testing.T) {
	for _, name := range []string{"old.doc", "OLD.PPT"} {
		_, err := New().Extract(name, strings.NewReader("binary"))
		assert.True(t, errors.Is(err, ErrLegacyFormat), name)
	}
}

func TestExtractRejectsUnknownTypes(t *testing.T) {
	_, err := New().Extract("image.png", strings.NewReader("png"))
	assert.True(t, errors.Is(err, ErrUnsupportedType))
	assert.False(t, Supported("image.png"))
	assert.True(t, Supported("Slides.PPTX"))
}

func TestExtractInvalidPDF(t *testing.T) {
	_, err := New().Extract("broken.pdf", strings.NewReader("not a pdf"))
	assert.Error(t, err)
}
