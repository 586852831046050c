package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"derukkies.com/app/internal/config"
	"derukkies.com/app/internal/http/handlers"
	"derukkies.com/app/internal/http/middleware"
	"derukkies.com/app/internal/mailer"
	"derukkies.com/app/internal/modules/cart"
	"derukkies.com/app/internal/modules/notify"
	"derukkies.com/app/internal/modules/orders"
	"derukkies.com/app/internal/modules/payments"
	"derukkies.com/app/internal/modules/products"
	"derukkies.com/app/internal/modules/shipping"
)

// NewRouter wires every module into a gin engine. rdb may be nil; the
// PayPal token cache then falls back to an in-process cache.
func NewRouter(cfg config.Config, logger *slog.Logger, db *gorm.DB, rdb *redis.Client, mail mailer.Service) *gin.Engine {
	if cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.ErrorHandler(logger))
	r.Use(middleware.SessionMiddleware(middleware.SessionCfg{
		DB:         db,
		CookieName: cfg.SessionCookieName,
		Secure:     cfg.SecureCookies,
		TTL:        cfg.SessionTTL,
	}))

	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}

	productRepo := products.NewRepo(db)
	cartRepo := cart.NewRepo(db)
	cartSvc := cart.NewService(db, cartRepo)
	shippingRepo := shipping.NewRepo(db)
	quoter := shipping.Quoter{Flat: cfg.Checkout.FlatShipping, FreeThreshold: cfg.Checkout.FreeShippingThreshold}

	notifier := notify.NewService(mail, cfg.SMTP, logger)
	orderRepo := orders.NewRepo(db)
	orderSvc := orders.NewService(db, orderRepo, cartRepo, shippingRepo, quoter, cfg.Checkout.Currency, cfg.Checkout.TaxRate, notifier, logger)

	recorder := payments.NewRecorder(db, logger)
	settler := payments.NewSettler(recorder, orderSvc, notifier, logger)

	var tokens payments.TokenCache
	if rdb != nil {
		tokens = payments.NewRedisTokenCache(rdb)
	} else {
		tokens = payments.NewMemoryTokenCache()
	}

	stripeSvc := payments.NewStripeService(cfg.Stripe, cfg.Checkout.Currency, httpClient, orderRepo, recorder, settler, logger)
	flwSvc := payments.NewFlutterwaveService(cfg.Flw, cfg.Checkout.Currency, httpClient, orderRepo, recorder, settler, logger)
	paypalSvc := payments.NewPayPalService(cfg.PayPal, cfg.Env, cfg.Checkout.Currency, httpClient, tokens, orderRepo, recorder, settler, logger)
	verifySvc := payments.NewVerifyService(cfg.PaymentVerifyToken, recorder, settler, logger)

	registry := payments.NewWebhookRegistry()
	registry.Register(payments.ProviderStripe, payments.StripeWebhookFunc(stripeSvc))
	registry.Register(payments.ProviderFlutterwave, payments.FlutterwaveWebhookFunc(flwSvc))
	registry.Register(payments.ProviderPayPal, payments.PayPalWebhookFunc(paypalSvc))

	productH := handlers.NewProductHandler(productRepo)
	cartH := handlers.NewCartHandler(db, cartRepo, cartSvc)
	shippingH := handlers.NewShippingHandler(shippingRepo)
	checkoutH := handlers.NewCheckoutHandler(db, orderSvc)
	orderH := handlers.NewOrderHandler(orderRepo)
	paymentH := handlers.NewPaymentHandler(db, orderRepo, stripeSvc, flwSvc, paypalSvc, verifySvc, cfg.BaseURL)
	webhookH := handlers.NewWebhookHandler(registry)
	healthH := handlers.NewHealthHandler(db)

	r.GET("/healthz", healthH.Check)

	api := r.Group("/api")
	{
		api.GET("/products", productH.List)
		api.GET("/products/:slug", productH.Detail)

		api.GET("/cart", cartH.Show)
		api.POST("/cart/items", cartH.Add)
		api.PATCH("/cart/items", cartH.Update)
		api.DELETE("/cart/items/:productID", cartH.Remove)
		api.DELETE("/cart", cartH.Clear)

		api.GET("/shipping-methods", shippingH.List)

		api.POST("/checkout", checkoutH.Create)
		api.GET("/orders", orderH.ListMine)
		api.GET("/orders/:orderID", orderH.Detail)

		pay := api.Group("/payments")
		{
			pay.POST("/stripe/session", paymentH.StripeCreateSession)
			pay.GET("/stripe/confirm", paymentH.StripeConfirm)

			pay.POST("/flutterwave", paymentH.FlutterwaveCreate)
			pay.GET("/flutterwave/confirm", paymentH.FlutterwaveConfirm)

			pay.GET("/paypal/config", paymentH.PayPalConfig)
			pay.POST("/paypal/orders", paymentH.PayPalCreateOrder)
			pay.POST("/paypal/capture", paymentH.PayPalCaptureOrder)

			pay.POST("/verify", paymentH.ManualVerify)
		}
	}

	r.POST("/webhooks/:provider", webhookH.Receive)

	return r
}
