package http

import (
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"LeadPilot/internal/middleware/jwt"
	aiRequest "LeadPilot/internal/modules/ai/application/dto/request"
	aiRespond "LeadPilot/internal/modules/ai/application/dto/respond"
	"LeadPilot/internal/modules/ai/application/service"
	"LeadPilot/pkg/back"
	"LeadPilot/pkg/xerr"
	"LeadPilot/pkg/zlog"
)

// KnowledgeHandler 知识入库与删除接口
type KnowledgeHandler struct {
	ingestSvc service.IngestionService
	asyncSvc  service.AsyncIngestService
}

// NewKnowledgeHandler asyncSvc 为 nil 时 async 请求退化为同步处理
func NewKnowledgeHandler(ingestSvc service.IngestionService, asyncSvc service.AsyncIngestService) *KnowledgeHandler {
	return &KnowledgeHandler{ingestSvc: ingestSvc, asyncSvc: asyncSvc}
}

// Process POST /ai/knowledge/process
func (h *KnowledgeHandler) Process(c *gin.Context) {
	var req aiRequest.ProcessKnowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	if !jwt.RequireChatbot(c, req.ChatbotID) {
		return
	}
	ctx := c.Request.Context()

	if req.Async && h.asyncSvc != nil {
		err := h.asyncSvc.EnqueueKnowledge(ctx, req.KnowledgeID, req.ChatbotID)
		back.Result(c, &aiRespond.ProcessKnowledgeRespond{KnowledgeID: req.KnowledgeID, Queued: err == nil}, toCodeError(err))
		return
	}

	if !h.ownedBy(c, req.KnowledgeID, req.ChatbotID) {
		return
	}
	res := h.ingestSvc.ProcessKnowledge(ctx, req.KnowledgeID)
	if !res.Success {
		zlog.Warn("ai knowledge process failed", zap.String("knowledge_id", req.KnowledgeID), zap.String("error", res.Error))
	}
	back.Success(c, &aiRespond.ProcessKnowledgeRespond{KnowledgeID: req.KnowledgeID, Result: res})
}

// Batch POST /ai/knowledge/batch
func (h *KnowledgeHandler) Batch(c *gin.Context) {
	var req aiRequest.BatchProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	if !jwt.RequireChatbot(c, req.ChatbotID) {
		return
	}
	ids := make([]string, 0, len(req.KnowledgeIDs))
	for _, id := range req.KnowledgeIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if !h.ownedBy(c, id, req.ChatbotID) {
			return
		}
		ids = append(ids, id)
	}
	back.Success(c, h.ingestSvc.ProcessBatch(c.Request.Context(), ids))
}

// Retry POST /ai/knowledge/retry
func (h *KnowledgeHandler) Retry(c *gin.Context) {
	var req aiRequest.RetryFailedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}
	if !jwt.RequireChatbot(c, req.ChatbotID) {
		return
	}
	data, err := h.ingestSvc.RetryFailed(c.Request.Context(), req.ChatbotID)
	back.Result(c, data, toCodeError(err))
}

// Delete DELETE /ai/knowledge/:id
func (h *KnowledgeHandler) Delete(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if !h.authorizeKnowledge(c, id) {
		return
	}
	cleanup, err := h.ingestSvc.DeleteKnowledge(c.Request.Context(), id)
	if err != nil {
		back.Result(c, nil, toCodeError(err))
		return
	}
	back.Success(c, &aiRespond.DeleteKnowledgeRespond{KnowledgeID: id, Cleanup: cleanup})
}

// DeleteVectors DELETE /ai/knowledge/:id/vectors
func (h *KnowledgeHandler) DeleteVectors(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if !h.authorizeKnowledge(c, id) {
		return
	}
	n, err := h.ingestSvc.DeleteKnowledgeVectors(c.Request.Context(), id)
	if err != nil {
		back.Result(c, nil, toCodeError(err))
		return
	}
	back.Success(c, &aiRespond.DeleteVectorsRespond{KnowledgeID: id, VectorsDeleted: n})
}

// DeleteChatbotVectors DELETE /ai/chatbots/:id/vectors
func (h *KnowledgeHandler) DeleteChatbotVectors(c *gin.Context) {
	chatbotID := strings.TrimSpace(c.Param("id"))
	if !jwt.RequireChatbot(c, chatbotID) {
		return
	}
	err := h.ingestSvc.DeleteChatbotVectors(c.Request.Context(), chatbotID)
	if err != nil {
		back.Result(c, nil, toCodeError(err))
		return
	}
	back.Success(c, &aiRespond.DeleteVectorsRespond{ChatbotID: chatbotID})
}

// authorizeKnowledge 按条目所属 chatbot 鉴权，失败时已写入响应
func (h *KnowledgeHandler) authorizeKnowledge(c *gin.Context, knowledgeID string) bool {
	if knowledgeID == "" {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return false
	}
	owner, err := h.ingestSvc.ChatbotOf(c.Request.Context(), knowledgeID)
	if err != nil {
		back.Result(c, nil, toCodeError(err))
		return false
	}
	return jwt.RequireChatbot(c, owner)
}

func (h *KnowledgeHandler) ownedBy(c *gin.Context, knowledgeID, chatbotID string) bool {
	owner, err := h.ingestSvc.ChatbotOf(c.Request.Context(), knowledgeID)
	if err != nil {
		back.Result(c, nil, toCodeError(err))
		return false
	}
	if owner != chatbotID {
		back.Error(c, xerr.BadRequest, "knowledge does not belong to chatbot")
		return false
	}
	return true
}
