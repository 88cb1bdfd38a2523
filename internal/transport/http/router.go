package httptransport

import (
	"log/slog"

	"github.com/ErlanBelekov/notify-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/notify-scheduler/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, notificationHandler *handler.NotificationHandler, hmacKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	notifications := r.Group("/v1/notifications", middleware.Auth(hmacKey))
	notifications.POST("", notificationHandler.Create)
	notifications.GET("", notificationHandler.List)
	notifications.DELETE("", notificationHandler.CancelAll)
	notifications.DELETE("/:id", notificationHandler.Cancel)

	return r
}
