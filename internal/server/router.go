package server

import (
	"net/http"
	"time"

	bidding "bidding-settlement/internal/biddingService"
	"bidding-settlement/internal/metrics"
	handler "bidding-settlement/services/bidding/handler"

	"github.com/gin-gonic/gin"
)

// SetupRouter configures all Gin routes for the application
func SetupRouter(biddingService *bidding.BiddingService, events handler.EventSource, heartbeat time.Duration) *gin.Engine {
	router := gin.New() // New router without default middleware for full control over middleware and logging

	router.Use(gin.Recovery())          // recover from panics
	router.Use(RequestLoggerMiddleware) // custom request logging
	router.Use(MetricsMiddleware)

	biddingHandler := handler.NewBiddingHandler(biddingService)
	walletHandler := handler.NewWalletHandler(biddingService)
	notificationHandler := handler.NewNotificationHandler(biddingService)
	streamHandler := handler.NewStreamHandler(events, heartbeat)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	auctions := router.Group("/auctions")
	{
		auctions.POST("", biddingHandler.CreateAuctionHandler)
		auctions.GET("/:auction_id", biddingHandler.GetAuctionHandler)
		auctions.POST("/:auction_id/bids", biddingHandler.PlaceBidHandler)
		auctions.GET("/:auction_id/bids", biddingHandler.GetBidsByAuctionHandler)
		auctions.GET("/:auction_id/highest", biddingHandler.GetHighestBidHandler)
		auctions.GET("/:auction_id/events", streamHandler.AuctionEventsHandler)
	}

	users := router.Group("/users")
	{
		users.GET("/:user_id/auctions", biddingHandler.GetAuctionsByUserHandler)
		users.GET("/:user_id/wallet", walletHandler.GetWalletHandler)
		users.POST("/:user_id/wallet/funds", walletHandler.AddFundsHandler)
		users.GET("/:user_id/notifications", notificationHandler.ListNotificationsHandler)
		users.POST("/:user_id/notifications/:notification_id/read", notificationHandler.MarkReadHandler)
		users.GET("/:user_id/events", streamHandler.UserEventsHandler)
	}

	return router
}
