package http

import (
	"strings"

	"github.com/gin-gonic/gin"

	"LeadPilot/internal/middleware/jwt"
	aiRequest "LeadPilot/internal/modules/ai/application/dto/request"
	aiRespond "LeadPilot/internal/modules/ai/application/dto/respond"
	"LeadPilot/internal/modules/ai/application/service"
	"LeadPilot/pkg/back"
	"LeadPilot/pkg/xerr"
)

type ContextHandler struct {
	assembler    service.ContextAssembler
	retrievalSvc service.RetrievalService
}

func NewContextHandler(assembler service.ContextAssembler, retrievalSvc service.RetrievalService) *ContextHandler {
	return &ContextHandler{assembler: assembler, retrievalSvc: retrievalSvc}
}

// Assemble POST /ai/context/assemble
func (h *ContextHandler) Assemble(c *gin.Context) {
	var req aiRequest.AssembleContextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	if !jwt.RequireChatbot(c, req.ChatbotID) {
		return
	}
	ctx := c.Request.Context()

	out := &aiRespond.AssembleContextRespond{RAGContext: req.RAGContext}
	if strings.TrimSpace(out.RAGContext) == "" && strings.TrimSpace(req.Query) != "" && h.retrievalSvc != nil {
		rag := h.retrievalSvc.PerformRAG(ctx, req.Query, req.ChatbotID, service.RAGOptions{})
		out.RAGContext = h.retrievalSvc.BuildContextString(rag.Chunks, 0)
		out.Sources = rag.Sources
	}

	conv, err := h.assembler.BuildForConversation(ctx, req.ChatbotID, req.ConversationID, out.RAGContext)
	if err != nil {
		back.Result(c, nil, toCodeError(err))
		return
	}
	out.Messages = conv.Messages
	out.Metadata = conv.Metadata
	out.Prompt = service.ToSchemaMessages(conv, req.SystemPrompt, out.RAGContext)
	back.Success(c, out)
}
