package budget

import (
	"unicode/utf8"

	"LeadPilot/internal/modules/ai/domain/conversation"
)

const (
	DefaultCharsPerToken = 4
	// MessageOverheadTokens 每条消息的角色标记等格式开销
	MessageOverheadTokens = 4
)

// TokenEstimator 可替换为真实 tokenizer
type TokenEstimator interface {
	Estimate(text string) int
}

// CharEstimator 按字符数粗估 token：ceil(runes / CharsPerToken)
type CharEstimator struct {
	CharsPerToken int
}

func NewCharEstimator() CharEstimator {
	return CharEstimator{CharsPerToken: DefaultCharsPerToken}
}

func (e CharEstimator) Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	per := e.CharsPerToken
	if per <= 0 {
		per = DefaultCharsPerToken
	}
	return (n + per - 1) / per
}

func EstimateMessage(est TokenEstimator, m *conversation.Message) int {
	if m == nil {
		return 0
	}
	return est.Estimate(m.Content) + MessageOverheadTokens
}

func EstimateMessages(est TokenEstimator, msgs []*conversation.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(est, m)
	}
	return total
}
