package handler

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/skillswap/timebank-api/internal/middleware"
	"github.com/skillswap/timebank-api/internal/models"
)

// Handlers groups every API handler mounted under the API prefix.
type Handlers struct {
	Auth          *AuthHandler
	Users         *UserHandler
	Sessions      *SessionHandler
	Credits       *CreditHandler
	Notifications *NotificationHandler
	Forum         *ForumHandler
	Stories       *StoryHandler
	Endorsements  *EndorsementHandler
	Reports       *ReportHandler
	Admin         *AdminHandler
	Dashboard     *DashboardHandler
}

// RouteDeps carries the cross-cutting collaborators of the route table.
type RouteDeps struct {
	Tokens middleware.TokenValidator
	Audit  middleware.AuditWriter
	Logger *zap.Logger
}

// RegisterRoutes mounts the API. Reads accept anonymous callers, mutations
// require a bearer token and /admin requires the admin role.
func RegisterRoutes(api gin.IRouter, h Handlers, deps RouteDeps) {
	required := middleware.JWT(deps.Tokens)
	optional := middleware.OptionalJWT(deps.Tokens)

	auth := api.Group("/auth")
	auth.POST("/register", h.Auth.Register)
	auth.POST("/login", h.Auth.Login)
	auth.POST("/refresh", h.Auth.Refresh)
	auth.POST("/logout", required, h.Auth.Logout)
	auth.POST("/change-password", required, h.Auth.ChangePassword)

	users := api.Group("/users")
	users.GET("/me", required, h.Users.Me)
	users.PATCH("/me", required, h.Users.UpdateMe)
	users.GET("/:id", h.Users.Get)

	sessions := api.Group("/sessions")
	sessions.GET("", optional, h.Sessions.List)
	sessions.POST("", required, h.Sessions.Book)
	sessions.GET("/:id", required, h.Sessions.Get)
	sessions.GET("/:id/history", required, h.Sessions.History)
	sessions.POST("/:id/approve", required, h.Sessions.Approve)
	sessions.POST("/:id/reject", required, h.Sessions.Reject)
	sessions.POST("/:id/cancel", required, h.Sessions.Cancel)
	sessions.POST("/:id/start", required, h.Sessions.Start)
	sessions.POST("/:id/complete", required, h.Sessions.Complete)
	sessions.POST("/:id/dispute", required, h.Sessions.Dispute)

	credits := api.Group("/credits")
	credits.GET("/balance", required, h.Credits.Balance)
	credits.GET("/transactions", required, h.Credits.Transactions)
	credits.POST("/statements", required,
		middleware.Audit(deps.Audit, deps.Logger, models.AuditActionStatementExport, "statement", ""),
		h.Credits.CreateStatement)
	credits.GET("/statements/download",
		middleware.Audit(deps.Audit, deps.Logger, models.AuditActionStatementDownload, "statement", ""),
		h.Credits.DownloadStatement)

	notifications := api.Group("/notifications")
	notifications.GET("", optional, h.Notifications.List)
	notifications.POST("/read-all", required, h.Notifications.MarkAllRead)
	notifications.POST("/:id/read", required, h.Notifications.MarkRead)

	forum := api.Group("/forum")
	forum.GET("/categories", h.Forum.Categories)
	forum.GET("/threads", h.Forum.Threads)
	forum.GET("/threads/:id", h.Forum.Thread)
	forum.GET("/threads/:id/replies", h.Forum.Replies)
	forum.POST("/threads", required, h.Forum.CreateThread)
	forum.POST("/replies", required, h.Forum.CreateReply)

	stories := api.Group("/stories")
	stories.GET("", optional, h.Stories.List)
	stories.GET("/:id", optional, h.Stories.Get)
	stories.POST("", required, h.Stories.Create)
	stories.POST("/:id/like", required, h.Stories.Like)
	stories.POST("/:id/unlike", required, h.Stories.Unlike)
	stories.GET("/:id/comments", h.Stories.Comments)
	stories.POST("/:id/comments", required, h.Stories.Comment)

	api.GET("/endorsements/users/:id", h.Endorsements.ForUser)
	api.POST("/endorsements", required, h.Endorsements.Create)
	api.POST("/reports", required, h.Reports.Create)

	admin := api.Group("/admin", required, middleware.RequireRoles(models.RoleAdmin))
	admin.GET("/dashboard", h.Dashboard.Summary)
	admin.GET("/sessions", h.Admin.ListSessions)
	admin.GET("/disputes", h.Admin.Disputes)
	admin.POST("/sessions/:id/resolve", h.Admin.ResolveSession)
	admin.POST("/credits/bonus", h.Admin.GrantBonus)
	admin.GET("/reports", h.Reports.List)
	admin.POST("/reports/:id/resolve", h.Reports.Resolve)
	admin.POST("/reports/:id/dismiss", h.Reports.Dismiss)
}
