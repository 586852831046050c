package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"derukkies.com/app/internal/config"
	"derukkies.com/app/internal/mailer"
	"derukkies.com/app/internal/modules/orders"
)

const sendTimeout = 10 * time.Second

// Service emails order lifecycle notifications. Every send is fire and
// forget: delivery failures are logged and never bubble into the payment
// path that triggered them.
type Service struct {
	mail mailer.Service
	cfg  config.SMTP
	log  *slog.Logger
}

func NewService(mail mailer.Service, cfg config.SMTP, log *slog.Logger) *Service {
	return &Service{mail: mail, cfg: cfg, log: log}
}

var _ orders.Notifier = (*Service)(nil)

func (s *Service) OrderCreated(order *orders.Order, contactEmail string) {
	to := contactEmail
	if to == "" {
		to = order.GuestEmail
	}
	if to == "" {
		return
	}
	subject := fmt.Sprintf("Order %s received", order.OrderNumber)
	text := fmt.Sprintf(
		"Thanks for your order!\n\nOrder number: %s\nTotal: %s %s\n\nWe will email you again once your payment is confirmed.\n",
		order.OrderNumber, order.Currency, order.Total.StringFixed(2))
	s.send("order.created", to, subject, text)
}

func (s *Service) OrderPaid(order *orders.Order, provider string) {
	if to := order.GuestEmail; to != "" {
		subject := fmt.Sprintf("Payment received for order %s", order.OrderNumber)
		text := fmt.Sprintf(
			"Your payment has been confirmed.\n\nOrder number: %s\nTotal: %s %s\n\nWe are preparing your order now.\n",
			order.OrderNumber, order.Currency, order.Total.StringFixed(2))
		s.send("order.paid.customer", to, subject, text)
	}
	if ops := s.cfg.OpsEmail; ops != "" {
		subject := fmt.Sprintf("[ops] order %s paid via %s", order.OrderNumber, provider)
		text := fmt.Sprintf(
			"Order %s (%s) was paid via %s.\nTotal: %s %s\n",
			order.OrderNumber, order.ID, provider, order.Currency, order.Total.StringFixed(2))
		s.send("order.paid.ops", ops, subject, text)
	}
}

func (s *Service) send(event, to, subject, text string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		err := s.mail.Send(ctx, mailer.Email{
			FromName: s.cfg.FromName,
			From:     s.cfg.From,
			To:       []string{to},
			Subject:  subject,
			TextBody: text,
		})
		if err != nil {
			s.log.Error("notification send failed", "event", event, "to", to, "error", err)
			return
		}
		s.log.Info("notification sent", "event", event, "to", to)
	}()
}
