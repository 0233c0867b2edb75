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

// RAGHandler RAG 召回查询 HTTP Handler
type RAGHandler struct {
	retrievalSvc service.RetrievalService
}

func NewRAGHandler(retrievalSvc service.RetrievalService) *RAGHandler {
	return &RAGHandler{retrievalSvc: retrievalSvc}
}

// Query 召回失败时同样返回成功响应，chunks 为空
//
// 路由: POST /ai/rag/query
func (h *RAGHandler) Query(c *gin.Context) {
	var req aiRequest.RAGQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	if !jwt.RequireChatbot(c, req.ChatbotID) {
		return
	}

	res := h.retrievalSvc.PerformRAG(c.Request.Context(), req.Query, req.ChatbotID, service.RAGOptions{
		TopK:     req.TopK,
		MinScore: req.MinScore,
	})
	out := &aiRespond.RAGQueryRespond{RAGResult: res}
	if req.IncludeContext {
		out.Context = h.retrievalSvc.BuildContextString(res.Chunks, req.MaxContextChunks)
	}
	back.Success(c, out)
}

// Version GET /ai/chatbots/:id/knowledge-version
func (h *RAGHandler) Version(c *gin.Context) {
	chatbotID := strings.TrimSpace(c.Param("id"))
	if !jwt.RequireChatbot(c, chatbotID) {
		return
	}
	v, err := h.retrievalSvc.GetKnowledgeVersion(c.Request.Context(), chatbotID)
	if err != nil {
		back.Result(c, nil, toCodeError(err))
		return
	}
	back.Success(c, &aiRespond.KnowledgeVersionRespond{ChatbotID: chatbotID, Version: v})
}
