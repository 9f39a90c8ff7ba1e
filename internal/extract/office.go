package extract

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var slidePattern = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

func extractDOCX(data []byte) (*Result, error) {
	zr, err := openZip(data)
	if err != nil {
		return nil, err
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		text, err := readXMLText(f)
		if err != nil {
			return nil, fmt.Errorf("read document.xml: %w", err)
		}
		return &Result{Text: text}, nil
	}
	return nil, errors.New("word/document.xml not found")
}

func extractPPTX(data []byte) (*Result, error) {
	zr, err := openZip(data)
	if err != nil {
		return nil, err
	}

	type slide struct {
		num  int
		file *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slidePattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{num: n, file: f})
	}
	if len(slides) == 0 {
		return nil, errors.New("no slides found")
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	var b strings.Builder
	for _, s := range slides {
		text, err := readXMLText(s.file)
		if err != nil {
			return nil, fmt.Errorf("read slide %d: %w", s.num, err)
		}
		b.WriteString(text)
	}
	return &Result{Text: b.String(), Pages: len(slides)}, nil
}

func openZip(data []byte) (*zip.Reader, error) {
	r, size := newReaderAt(data)
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open office container: %w", err)
	}
	return zr, nil
}

// readXMLText walks an OOXML part and returns the contents of its text runs,
// one paragraph per line. Tabs and line breaks inside a paragraph become a
// space.
func readXMLText(f *zip.File) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var (
		b      strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab", "br":
				b.WriteString(" ")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}
