package http

import (
	nethttp "net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"LeadPilot/internal/config"
	jwtMiddleware "LeadPilot/internal/middleware/jwt"
	aiHttp "LeadPilot/internal/modules/ai/interface/http"
	"LeadPilot/pkg/back"
	"LeadPilot/pkg/ssl"
	"LeadPilot/pkg/util/myjwt"
)

// Handlers 路由依赖的各个 handler，由 main 构造后传入
type Handlers struct {
	Knowledge *aiHttp.KnowledgeHandler
	RAG       *aiHttp.RAGHandler
	Context   *aiHttp.ContextHandler
}

// NewRouter 组装 gin 引擎：CORS、可选 https 重定向、JWT 鉴权分组
func NewRouter(conf config.MainConfig, signer *myjwt.Signer, h Handlers) *gin.Engine {
	if conf.Mode == gin.ReleaseMode || conf.Mode == gin.DebugMode || conf.Mode == gin.TestMode {
		gin.SetMode(conf.Mode)
	}
	ge := gin.New()
	ge.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	ge.Use(cors.New(corsConfig))
	if conf.TLSRedirect {
		ge.Use(ssl.TlsHandler(conf.Host, conf.Port))
	}

	ge.GET("/health", func(c *gin.Context) {
		c.JSON(nethttp.StatusOK, gin.H{"status": "ok"})
	})

	authed := ge.Group("/")
	authed.Use(jwtMiddleware.Auth(signer))
	authed.GET("/auth/ping", func(c *gin.Context) {
		back.Result(c, gin.H{"tenant_id": c.GetString("tenant_id")}, nil)
	})

	ai := authed.Group("/ai")
	{
		kb := ai.Group("/knowledge")
		kb.POST("/process", h.Knowledge.Process)
		kb.POST("/batch", h.Knowledge.Batch)
		kb.POST("/retry", h.Knowledge.Retry)
		kb.DELETE("/:id", h.Knowledge.Delete)
		kb.DELETE("/:id/vectors", h.Knowledge.DeleteVectors)

		ai.DELETE("/chatbots/:id/vectors", h.Knowledge.DeleteChatbotVectors)
		ai.GET("/chatbots/:id/knowledge-version", h.RAG.Version)

		ai.POST("/rag/query", h.RAG.Query)
		ai.POST("/context/assemble", h.Context.Assemble)
	}
	return ge
}
