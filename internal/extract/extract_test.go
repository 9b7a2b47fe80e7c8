package extract

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func TestText_PlainUTF8(t *testing.T) {
	got, err := Text("notes.txt", []byte("  hello\xff world\r\n\r\n\r\n\r\nnext  "))
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if want := "hello world\n\nnext"; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestText_HTML(t *testing.T) {
	page := `<html><head><title>Title</title><style>body{}</style></head>
<body><h1>Header</h1><script>alert(1)</script><p>First <b>bold</b> para.</p></body></html>`
	got, err := Text("page.HTML", []byte(page))
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	want := "Title\nHeader\nFirst\nbold\npara."
	if got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
	if strings.Contains(got, "alert") || strings.Contains(got, "body{}") {
		t.Error("script or style content leaked into text")
	}
}

func TestText_DOCX(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, _ := zw.Create("word/document.xml")
	w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:body>
<w:p><w:r><w:t>Hello </w:t></w:r><w:r><w:t>world.</w:t></w:r></w:p>
<w:p><w:r><w:t>Second paragraph.</w:t></w:r></w:p>
</w:body></w:document>`))
	zw.Close()

	got, err := Text("doc.docx", buf.Bytes())
	if err != nil {
		t.Fatalf("Text: %v", err)
	}
	if want := "Hello world.\n\nSecond paragraph."; got != want {
		t.Errorf("Text() = %q, want %q", got, want)
	}
}

func TestText_BrokenDocuments(t *testing.T) {
	for _, name := range []string{"broken.pdf", "broken.docx"} {
		if _, err := Text(name, []byte("definitely not a document")); err == nil {
			t.Errorf("Text(%s) succeeded on garbage input", name)
		}
	}
}

func TestClean(t *testing.T) {
	if got := Clean("\n\n a\n\n\n\nb \n"); got != "a\n\nb" {
		t.Errorf("Clean() = %q", got)
	}
}
