package handler

import (
	"assetledger/internal/metrics"
	"assetledger/internal/service"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(svc *service.Services) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(CORSMiddleware())

	h := NewHandler(svc)

	api := r.Group("/api/v1")
	{
		customers := api.Group("/customers")
		{
			customers.POST("", h.CreateCustomer)
			customers.GET("/lookup", h.LookupCustomer)
			customers.GET("/:id", h.GetCustomer)
			customers.GET("/:id/assets", h.GetCustomerAssets)
		}

		wallet := api.Group("/wallet")
		{
			wallet.POST("/recharge", h.Recharge)
			wallet.POST("/gift", h.Gift)
			wallet.POST("/adjust", h.AdjustWallet)
			wallet.GET("/balance", h.GetBalance)
			wallet.GET("/logs", h.ListWalletLogs)
		}

		coupons := api.Group("/coupons")
		{
			coupons.POST("/issue", h.IssueCoupon)
			coupons.POST("/issue-batch", h.IssueCouponBatch)
			coupons.POST("/adjust", h.AdjustCoupon)
			coupons.POST("/cancel", h.CancelCoupon)
			coupons.GET("", h.ListCoupons)
			coupons.GET("/:id", h.GetCoupon)
			coupons.GET("/:id/logs", h.ListCouponLogs)
		}

		cards := api.Group("/member-cards")
		{
			cards.POST("/open", h.OpenMemberCard)
			cards.POST("/adjust", h.AdjustMemberCard)
			cards.GET("", h.ListMemberCards)
			cards.GET("/:id", h.GetMemberCard)
			cards.GET("/:id/logs", h.ListMemberCardLogs)
		}

		consume := api.Group("/consume")
		{
			consume.POST("/settle", h.Settle)
			consume.POST("/amend", h.AmendConsume)
			consume.POST("/revoke", h.RevokeConsume)
			consume.GET("", h.ListConsume)
			consume.GET("/:consume_no", h.GetConsume)
		}

		appointments := api.Group("/appointments")
		{
			appointments.POST("/status-change", h.AppointmentStatusChange)
			appointments.POST("/rollback", h.RollbackAppointment)
			appointments.POST("/adjust", h.AdjustAppointment)
			appointments.GET("/:id/consume", h.GetAppointmentConsume)
		}

		transfers := api.Group("/transfers")
		{
			transfers.POST("/coupon", h.TransferCoupon)
			transfers.POST("/member-card", h.TransferMemberCard)
			transfers.GET("", h.ListTransfers)
		}

		api.GET("/audit", h.ListAudit)
	}

	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
