package router

import (
	"time"

	"SignalCAD/internal/handler"
	"SignalCAD/internal/middleware"
	"SignalCAD/internal/service"

	"github.com/gin-gonic/gin"
)

type Deps struct {
	Users          *service.UserService
	Communities    *service.CommunityService
	RequestTimeout time.Duration
	AuthRateLimit  float64
	AuthRateBurst  int
}

func InitRouter(d Deps) *gin.Engine {
	r := gin.Default()
	r.Use(middleware.Timeout(d.RequestTimeout))

	user := handler.NewUserHandler(d.Users)
	community := handler.NewCommunityHandler(d.Communities)
	auth := middleware.AuthMiddleware(d.Users)

	// 登录注册接口，按 IP 限流
	authGroup := r.Group("/api/auth")
	{
		limiter := middleware.RateLimit(middleware.NewIPRateLimiter(d.AuthRateLimit, d.AuthRateBurst))
		authGroup.POST("/signup", limiter, user.Signup)
		authGroup.POST("/login", limiter, user.Login)
		authGroup.POST("/logout", auth, user.Logout)
	}

	// 社区相关接口
	communityGroup := r.Group("/api/communities")
	communityGroup.Use(auth)
	{
		communityGroup.POST("", community.Create)
		communityGroup.GET("", community.ListMine)
		communityGroup.GET("/:id", community.Get)
		communityGroup.PATCH("/:id/branding", community.UpdateBranding)
		communityGroup.PUT("/:id/members/:userId", community.SetMember)
		communityGroup.DELETE("/:id/members/:userId", community.RemoveMember)
	}

	return r
}
