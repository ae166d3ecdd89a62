package chunk

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// DOCXStrategy produces one unit per Word paragraph, carrying its style name.
type DOCXStrategy struct{}

// NewDOCXStrategy returns a DOCX paragraph splitter.
func NewDOCXStrategy() *DOCXStrategy { return &DOCXStrategy{} }

// Type implements Strategy.
func (s *DOCXStrategy) Type() ChunkType { return ChunkTypeParagraph }

// Units implements Strategy.
func (s *DOCXStrategy) Units(ctx context.Context, path string) ([]Unit, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, vkberrors.DecodeError(path, err)
	}
	defer func() { _ = zr.Close() }()

	var docFile, stylesFile *zip.File
	for _, f := range zr.File {
		switch f.Name {
		case "word/document.xml":
			docFile = f
		case "word/styles.xml":
			stylesFile = f
		}
	}
	if docFile == nil {
		return nil, vkberrors.DecodeError(path, fmt.Errorf("word/document.xml missing"))
	}

	styles := map[string]string{}
	if stylesFile != nil {
		if styles, err = readStyles(stylesFile); err != nil {
			return nil, vkberrors.DecodeError(path, err)
		}
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, vkberrors.DecodeError(path, err)
	}
	defer func() { _ = rc.Close() }()

	units, err := readParagraphs(ctx, rc, styles)
	if err != nil {
		return nil, vkberrors.DecodeError(path, err)
	}
	return units, nil
}

// readStyles maps style ids to display names from word/styles.xml.
func readStyles(f *zip.File) (map[string]string, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	var doc struct {
		Styles []struct {
			ID   string `xml:"styleId,attr"`
			Name struct {
				Val string `xml:"val,attr"`
			} `xml:"name"`
		} `xml:"style"`
	}
	if err := xml.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse styles: %w", err)
	}

	styles := make(map[string]string, len(doc.Styles))
	for _, s := range doc.Styles {
		styles[s.ID] = s.Name.Val
	}
	return styles, nil
}

// readParagraphs streams w:p elements, concatenating w:t runs.
func readParagraphs(ctx context.Context, r io.Reader, styles map[string]string) ([]Unit, error) {
	dec := xml.NewDecoder(r)

	var (
		units   []Unit
		inPara  bool
		inText  bool
		styleID string
		text    strings.Builder
	)

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse document: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "p":
				inPara, styleID = true, ""
				text.Reset()
			case "pStyle":
				if inPara {
					styleID = attr(t, "val")
				}
			case "t":
				inText = inPara
			case "tab":
				if inPara {
					text.WriteByte('\t')
				}
			case "br", "cr":
				if inPara {
					text.WriteByte('\n')
				}
			}
		case xml.EndElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if !inPara {
					continue
				}
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				units = append(units, Unit{Text: text.String(), Style: styleName(styles, styleID)})
				inPara = false
			}
		case xml.CharData:
			if inText {
				text.Write(t)
			}
		}
	}
	return units, nil
}

func attr(e xml.StartElement, local string) string {
	for _, a := range e.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func styleName(styles map[string]string, id string) string {
	if id == "" {
		return "Normal"
	}
	if name, ok := styles[id]; ok && name != "" {
		return name
	}
	return id
}
