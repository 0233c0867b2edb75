package chunking

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	spaceRun   = regexp.MustCompile(`[ \t\v\x{00A0}\x{3000}]+`)
	lineEdge   = regexp.MustCompile(` *\n *`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// Normalize 统一换行、压缩空白、去掉控制字符；保留 \f 作为分页标记
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\f', '\t':
			return r
		}
		if unicode.IsControl(r) || r == '\uFEFF' {
			return -1
		}
		return r
	}, text)
	text = spaceRun.ReplaceAllString(text, " ")
	text = lineEdge.ReplaceAllString(text, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
