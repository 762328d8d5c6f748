package http

import (
	"log/slog"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ondrasimku/file-intake/internal/auth"
	"github.com/ondrasimku/file-intake/internal/config"
	"github.com/ondrasimku/file-intake/internal/http/handler"
	"github.com/ondrasimku/file-intake/internal/metrics"
)

type Deps struct {
	Intake   handler.Intaker
	Registry handler.Registry
	Ready    handler.Pinger
	// Verifier protects the mutating routes. Nil leaves them open.
	Verifier *auth.Verifier
}

func NewRouter(deps Deps, cfg *config.Config, logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.MaxMultipartMemory = cfg.MaxMultipartMemory

	if len(cfg.CORS.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           cfg.CORS.MaxAge,
		}))
	}

	healthHandler := handler.NewHealthHandler(deps.Ready)
	filesHandler := handler.NewFilesHandler(deps.Intake, deps.Registry, cfg.Registry.PageSize, logger)

	router.GET("/healthz", healthHandler.Health)
	router.GET("/readyz", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	router.GET("/files", filesHandler.List)
	router.GET("/files/:name", filesHandler.Get)

	guard := func(permission string) []gin.HandlerFunc {
		if deps.Verifier == nil {
			return nil
		}
		return []gin.HandlerFunc{auth.Middleware(deps.Verifier), auth.RequirePermissions(permission)}
	}

	router.POST("/upload", append(guard(auth.PermissionUpload), filesHandler.Upload)...)
	router.DELETE("/files", append(guard(auth.PermissionDelete), filesHandler.Delete)...)
	router.DELETE("/files/:name", append(guard(auth.PermissionDelete), filesHandler.Delete)...)
	router.DELETE("/admin/files", append(guard(auth.PermissionAdmin), filesHandler.Clear)...)

	return router
}
