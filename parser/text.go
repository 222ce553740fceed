package parser

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
)

// TextParser handles plain text files. Chinese corpora frequently arrive in
// legacy encodings, so decoding tries a fixed candidate chain and the first
// encoding that decodes without replacement characters wins.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt", "md"} }

func (p *TextParser) Parse(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading text file: %w", err)
	}
	return DecodeText(data)
}

// textEncodings is the candidate chain, in priority order. ISO-8859-1 decodes
// any byte sequence, so it acts as the last resort before UTF-16.
var textEncodings = []struct {
	name string
	enc  encoding.Encoding
}{
	{"gbk", simplifiedchinese.GBK},
	{"gb18030", simplifiedchinese.GB18030},
	{"iso-8859-1", charmap.ISO8859_1},
	{"utf-16", unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)},
}

// DecodeText converts raw bytes to a UTF-8 string. Valid UTF-8 passes
// through untouched (a BOM is stripped); otherwise the candidate encodings
// are tried in order.
func DecodeText(data []byte) (string, error) {
	if utf8.Valid(data) {
		s := string(data)
		return strings.TrimPrefix(s, "\uFEFF"), nil
	}

	// A UTF-16 BOM is unambiguous; decode it before the heuristic chain,
	// where ISO-8859-1 would otherwise swallow the bytes.
	if len(data) >= 2 && (data[0] == 0xFF && data[1] == 0xFE || data[0] == 0xFE && data[1] == 0xFF) {
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder().Bytes(data)
		if err == nil && !strings.ContainsRune(string(out), utf8.RuneError) {
			return string(out), nil
		}
	}

	for _, cand := range textEncodings {
		out, err := cand.enc.NewDecoder().Bytes(data)
		if err != nil {
			continue
		}
		s := string(out)
		if strings.ContainsRune(s, utf8.RuneError) {
			continue
		}
		return s, nil
	}
	return "", ErrUnknownEncoding
}
