package embedding

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const charsPerToken = 4

var whitespaceRun = regexp.MustCompile(`\s+`)

// CleanText 向量化前压缩所有空白为单个空格
func CleanText(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + charsPerToken - 1) / charsPerToken
}

// TruncateToTokens 超过 maxTokens 时截断并追加省略号，结果不超过 maxTokens*4 个字符
func TruncateToTokens(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return s
	}
	limit := maxTokens * charsPerToken
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:limit-3])) + "..."
}

// 按长度降序，先匹配更长的前缀
var queryPrefixes = []string{
	"can you please tell me about", "could you please tell me about",
	"i would like to know about", "i'd like to know about", "i want to know about",
	"can you tell me about", "could you tell me about", "can you tell me", "could you tell me",
	"where can i find", "i would like to know", "i'd like to know", "i want to know",
	"tell me about", "how do i", "how can i", "how does", "how do", "how to",
	"what is the", "what are the", "what is", "what are", "what's",
	"do you have", "do you offer", "is there", "are there",
	"show me", "tell me", "explain",
	"what", "how", "where", "when", "why", "who", "which",
}

var fillerWords = map[string]struct{}{
	"please": {}, "kindly": {}, "just": {}, "actually": {}, "basically": {}, "really": {},
	"um": {}, "uh": {}, "hey": {}, "hi": {}, "hello": {},
}

// OptimizeQuery 去掉疑问句式前缀与语气词，让查询更接近文档里的陈述句
func OptimizeQuery(q string) string {
	s := strings.ToLower(CleanText(q))
	s = strings.TrimRight(s, "?!. ")

	words := strings.Fields(s)
	kept := words[:0]
	for _, w := range words {
		if _, ok := fillerWords[strings.Trim(w, ",")]; ok {
			continue
		}
		kept = append(kept, w)
	}
	s = strings.Join(kept, " ")

	for changed := true; changed; {
		changed = false
		for _, p := range queryPrefixes {
			if s == p {
				break
			}
			if strings.HasPrefix(s, p+" ") {
				s = strings.TrimSpace(strings.TrimPrefix(s, p))
				changed = true
				break
			}
		}
	}
	return strings.TrimSpace(s)
}
