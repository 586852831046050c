package payments

import (
	"context"
	"net/http"

	"derukkies.com/app/internal/shared/apperr"
)

// WebhookFunc consumes one raw webhook delivery.
type WebhookFunc func(ctx context.Context, header http.Header, body []byte) error

// WebhookRegistry routes /webhooks/:provider to the matching adapter.
type WebhookRegistry struct {
	handlers map[string]WebhookFunc
}

func NewWebhookRegistry() *WebhookRegistry {
	return &WebhookRegistry{handlers: map[string]WebhookFunc{}}
}

func (r *WebhookRegistry) Register(provider string, fn WebhookFunc) {
	r.handlers[provider] = fn
}

func (r *WebhookRegistry) Dispatch(ctx context.Context, provider string, header http.Header, body []byte) error {
	fn, ok := r.handlers[provider]
	if !ok {
		return apperr.NotFoundErr("unknown_provider")
	}
	return fn(ctx, header, body)
}

// StripeWebhookFunc adapts the Stripe service to the registry.
func StripeWebhookFunc(s *StripeService) WebhookFunc {
	return func(ctx context.Context, header http.Header, body []byte) error {
		return s.Webhook(ctx, header.Get("Stripe-Signature"), body)
	}
}

// FlutterwaveWebhookFunc adapts the Flutterwave service to the registry.
func FlutterwaveWebhookFunc(s *FlutterwaveService) WebhookFunc {
	return func(ctx context.Context, header http.Header, body []byte) error {
		return s.Webhook(ctx, header.Get("verif-hash"), body)
	}
}

// PayPalWebhookFunc adapts the PayPal service to the registry.
func PayPalWebhookFunc(s *PayPalService) WebhookFunc {
	return func(ctx context.Context, header http.Header, body []byte) error {
		return s.Webhook(ctx, PayPalWebhookHeaders{
			TransmissionID:   header.Get("Paypal-Transmission-Id"),
			TransmissionTime: header.Get("Paypal-Transmission-Time"),
			CertURL:          header.Get("Paypal-Cert-Url"),
			TransmissionSig:  header.Get("Paypal-Transmission-Sig"),
			AuthAlgo:         header.Get("Paypal-Auth-Algo"),
		}, body)
	}
}
