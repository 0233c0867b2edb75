package service

import (
	"context"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"LeadPilot/internal/modules/ai/domain/budget"
	"LeadPilot/internal/modules/ai/domain/conversation"
	"LeadPilot/internal/modules/ai/domain/repository"
	"LeadPilot/pkg/zlog"
)

const (
	ModeToken  = "token"
	ModeLegacy = "legacy"
)

type AssemblerConfig struct {
	Mode   string
	Budget budget.Config
	// LegacyPairs legacy 模式保留的最近问答对数
	LegacyPairs int
	// HistoryLimit 从消息存储读取的最大条数
	HistoryLimit int
}

// ContextAssembler 组装送给模型的会话历史。token 模式下历史预算会先扣掉本轮 RAG 上下文的占用
type ContextAssembler interface {
	Assemble(messages []*conversation.Message, conversationID, ragContext string) *conversation.Context
	AssembleLegacy(messages []*conversation.Message, conversationID string, pairs int) *conversation.Context
	// BuildForConversation 读取会话消息并按配置的模式组装；chatbotID 非空时只保留该 chatbot 的消息
	BuildForConversation(ctx context.Context, chatbotID, conversationID, ragContext string) (*conversation.Context, error)
}

type contextAssembler struct {
	msgs      repository.MessageRepository
	estimator budget.TokenEstimator
	compactor *budget.Compactor
	cfg       AssemblerConfig
}

// NewContextAssembler msgs 只在 BuildForConversation 中使用，可以为 nil
func NewContextAssembler(msgs repository.MessageRepository, est budget.TokenEstimator, cfg AssemblerConfig) ContextAssembler {
	if est == nil {
		est = budget.NewCharEstimator()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeToken
	}
	if cfg.LegacyPairs <= 0 {
		cfg.LegacyPairs = 10
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 500
	}
	return &contextAssembler{
		msgs:      msgs,
		estimator: est,
		compactor: budget.NewCompactor(est, cfg.Budget.MinMessages),
		cfg:       cfg,
	}
}

func (a *contextAssembler) Assemble(messages []*conversation.Message, conversationID, ragContext string) *conversation.Context {
	valid := usableMessages(messages, conversationID)
	ragTokens := a.estimator.Estimate(ragContext)
	available := max(0, a.cfg.Budget.AvailableForHistory()-ragTokens)
	tokens := budget.EstimateMessages(a.estimator, valid)

	d := budget.Evaluate(tokens, available, a.cfg.Budget)
	res := a.compactor.Compact(valid, d.TargetTokens, d.Strategy)

	out := &conversation.Context{
		Messages: toContextMessages(res.Retained),
		Metadata: conversation.ContextMetadata{
			TotalTokens:     res.TotalTokens,
			WasCompacted:    len(res.Dropped) > 0,
			MessagesDropped: len(res.Dropped),
			RAGTokensUsed:   ragTokens,
			BudgetStatus:    string(d.Status),
			Strategy:        string(res.Strategy),
			UsageRatio:      budget.UsageRatio(res.TotalTokens, available),
			Mode:            ModeToken,
		},
	}
	if d.NeedsCompaction {
		zlog.Info("ai context compacted",
			zap.String("conversation_id", conversationID),
			zap.String("status", string(d.Status)),
			zap.Int("tokens_before", tokens),
			zap.Int("tokens_after", res.TotalTokens),
			zap.Int("target", d.TargetTokens),
			zap.Int("available", available),
			zap.Int("rag_tokens", ragTokens),
			zap.Int("dropped", len(res.Dropped)))
	}
	return out
}

func (a *contextAssembler) AssembleLegacy(messages []*conversation.Message, conversationID string, pairs int) *conversation.Context {
	if pairs <= 0 {
		pairs = a.cfg.LegacyPairs
	}
	valid := usableMessages(messages, conversationID)
	keep := valid
	if limit := pairs * 2; len(valid) > limit {
		keep = valid[len(valid)-limit:]
	}
	dropped := len(valid) - len(keep)
	tokens := budget.EstimateMessages(a.estimator, keep)
	available := a.cfg.Budget.AvailableForHistory()

	return &conversation.Context{
		Messages: toContextMessages(keep),
		Metadata: conversation.ContextMetadata{
			TotalTokens:     tokens,
			WasCompacted:    dropped > 0,
			MessagesDropped: dropped,
			BudgetStatus:    string(budget.StatusFor(tokens, available, a.cfg.Budget)),
			Strategy:        string(budget.StrategyNone),
			UsageRatio:      budget.UsageRatio(tokens, available),
			Mode:            ModeLegacy,
		},
	}
}

func (a *contextAssembler) BuildForConversation(ctx context.Context, chatbotID, conversationID, ragContext string) (*conversation.Context, error) {
	var msgs []*conversation.Message
	if a.msgs != nil {
		loaded, err := a.msgs.ListRecent(ctx, conversationID, a.cfg.HistoryLimit)
		if err != nil {
			return nil, err
		}
		msgs = make([]*conversation.Message, 0, len(loaded))
		for _, m := range loaded {
			if chatbotID == "" || m.ChatbotId == chatbotID {
				msgs = append(msgs, m)
			}
		}
	}
	if a.cfg.Mode == ModeLegacy {
		return a.AssembleLegacy(msgs, conversationID, a.cfg.LegacyPairs), nil
	}
	return a.Assemble(msgs, conversationID, ragContext), nil
}

// usableMessages 只保留本会话中状态正常的消息，按时间升序
func usableMessages(messages []*conversation.Message, conversationID string) []*conversation.Message {
	out := make([]*conversation.Message, 0, len(messages))
	for _, m := range messages {
		if m != nil && m.ConversationId == conversationID && m.Usable() {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func toContextMessages(msgs []*conversation.Message) []conversation.ContextMessage {
	out := make([]conversation.ContextMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, conversation.ContextMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// ToSchemaMessages 转成 eino 消息；systemPrompt 与 ragContext 非空时合并为一条 system 消息放在最前
func ToSchemaMessages(c *conversation.Context, systemPrompt, ragContext string) []*schema.Message {
	out := make([]*schema.Message, 0, 1+len(c.Messages))
	sys := strings.TrimSpace(systemPrompt)
	if rc := strings.TrimSpace(ragContext); rc != "" {
		if sys != "" {
			sys += "\n\n"
		}
		sys += "Relevant knowledge:\n" + rc
	}
	if sys != "" {
		out = append(out, schema.SystemMessage(sys))
	}
	for _, m := range c.Messages {
		switch m.Role {
		case conversation.RoleAssistant:
			out = append(out, schema.AssistantMessage(m.Content, nil))
		case conversation.RoleSystem:
			out = append(out, schema.SystemMessage(m.Content))
		default:
			out = append(out, schema.UserMessage(m.Content))
		}
	}
	return out
}
