package parsers

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DecodeText turns an uploaded TXT file into UTF-8 with LF line endings.
// Files that are not valid UTF-8 are decoded as GB18030, which covers the
// GBK and GB2312 encodings most Chinese novel files use.
func DecodeText(raw []byte) (string, error) {
	raw = bytes.TrimPrefix(raw, utf8BOM)

	var text string
	if utf8.Valid(raw) {
		text = string(raw)
	} else {
		decoded, _, err := transform.Bytes(simplifiedchinese.GB18030.NewDecoder(), raw)
		if err != nil {
			return "", fmt.Errorf("decode GB18030 text: %w", err)
		}
		text = string(decoded)
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return text, nil
}
