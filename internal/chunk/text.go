package chunk

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"

	vkberrors "github.com/XuanZiK/V-knowledge/internal/errors"
)

// textEncoding is one candidate in the decode fallback chain.
type textEncoding struct {
	name string
	enc  encoding.Encoding // nil means UTF-8
}

// defaultEncodings is tried in order; the first clean decode wins.
var defaultEncodings = []textEncoding{
	{name: "utf-8"},
	{name: "gbk", enc: simplifiedchinese.GBK},
	{name: "gb18030", enc: simplifiedchinese.GB18030},
	{name: "utf-16", enc: unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)},
}

// TextStrategy splits plain text on blank lines.
type TextStrategy struct {
	encodings []textEncoding
}

// NewTextStrategy returns a strategy using the default encoding chain.
func NewTextStrategy() *TextStrategy {
	return &TextStrategy{encodings: defaultEncodings}
}

// Type implements Strategy.
func (s *TextStrategy) Type() ChunkType { return ChunkTypeParagraph }

// Units implements Strategy. Paragraphs are separated by "\n\n".
func (s *TextStrategy) Units(ctx context.Context, path string) ([]Unit, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, vkberrors.NotFoundError(path, err)
	}

	text, _, err := s.decode(raw)
	if err != nil {
		return nil, vkberrors.DecodeError(path, err)
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	parts := strings.Split(text, "\n\n")

	units := make([]Unit, len(parts))
	for i, p := range parts {
		units[i] = Unit{Text: p}
	}
	return units, nil
}

// decode returns the text and the name of the encoding that produced it.
func (s *TextStrategy) decode(raw []byte) (string, string, error) {
	for _, te := range s.encodings {
		if text, ok := decodeWith(te, raw); ok {
			return text, te.name, nil
		}
	}
	names := make([]string, len(s.encodings))
	for i, te := range s.encodings {
		names[i] = te.name
	}
	return "", "", fmt.Errorf("no encoding matched (tried %s)", strings.Join(names, ", "))
}

func decodeWith(te textEncoding, raw []byte) (string, bool) {
	if te.enc == nil {
		if !utf8.Valid(raw) {
			return "", false
		}
		return string(bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))), true
	}

	if te.name == "utf-16" && len(raw)%2 != 0 {
		return "", false
	}

	out, err := te.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", false
	}
	// Decoders substitute U+FFFD for invalid input instead of failing.
	if bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	return string(out), true
}
