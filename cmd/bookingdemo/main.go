// Command bookingdemo creates a booking, pays part of it and cancels it, each
// step in its own session, against the persistor configured through
// EVENTPULSE_* environment variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/terraskye/eventpulse"
	"github.com/terraskye/eventpulse/config"
	"github.com/terraskye/eventpulse/internal/booking"
	"github.com/terraskye/eventpulse/internal/telemetry"
	"github.com/terraskye/eventpulse/logging"
	eventpulseotel "github.com/terraskye/eventpulse/otel"
	eventpulseprom "github.com/terraskye/eventpulse/prometheus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "bookingdemo: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.Logger()

	shutdown, err := telemetry.Setup(ctx, "bookingdemo", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		if err := shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.WithError(err).Warn("flush spans")
		}
	}()

	persistor, closer, err := openPersistor(ctx, cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	reg := prometheus.NewRegistry()
	if cfg.MetricsAddr != "" {
		serveMetrics(cfg.MetricsAddr, reg, logger)
	}

	persistor = logging.WithPersistorLogging(logger.WithField("component", "persistor"), persistor)
	persistor = eventpulseprom.WithPersistorMetrics(eventpulseprom.NewMetrics(reg), persistor)
	persistor = eventpulseotel.WithPersistorTelemetry(persistor)

	registry := eventpulse.NewSerializerRegistry()
	if err := booking.Register(registry); err != nil {
		return err
	}

	factory := eventpulse.NewSessionFactory(registry, persistor,
		eventpulse.WithLogger(logger.WithField("component", "session")),
		eventpulse.WithFlushTimeout(cfg.FlushTimeout),
	)

	// Ids restart with every run, so offset them to keep streams apart.
	ids := booking.NewGenerator(time.Now().UnixMilli() * 1000)
	today := time.Now().UTC().Truncate(24 * time.Hour)
	created := booking.NewBookingCreated(ids, 1, 1, today, today.AddDate(0, 0, 3), 300, 0)

	err = factory.Run(ctx, func(ctx context.Context, s *eventpulse.Session) error {
		_, err := booking.Create(ctx, created)
		return err
	})
	if err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	logger.WithField("booking_id", created.BookingID).Info("booking created")

	retry := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	err = eventpulse.RunWithRetry(ctx, factory, func(ctx context.Context, s *eventpulse.Session) error {
		b, err := loadBooking(ctx, s, created.BookingID)
		if err != nil {
			return err
		}
		return b.RegisterPayment(ctx, booking.BookingPaid{AmountPaid: 100, PaidAt: time.Now().UTC()})
	}, retry)
	if err != nil {
		return fmt.Errorf("pay booking: %w", err)
	}

	err = factory.Run(ctx, func(ctx context.Context, s *eventpulse.Session) error {
		b, err := loadBooking(ctx, s, created.BookingID)
		if err != nil {
			return err
		}

		overpay := b.RegisterPayment(ctx, booking.BookingPaid{AmountPaid: 250, PaidAt: time.Now().UTC()})
		if !errors.Is(overpay, booking.ErrOverpayment) {
			return fmt.Errorf("expected overpayment to be rejected, got %v", overpay)
		}
		logger.WithError(overpay).Info("overpayment rejected")

		logger.WithFields(logrus.Fields{
			"booking_id": b.ID(),
			"pending":    b.PendingAmount(),
		}).Info("booking loaded")

		return b.Cancel(ctx, booking.BookingCancelled{Reason: "demo", CancelledAt: time.Now().UTC()})
	})
	if err != nil {
		return fmt.Errorf("cancel booking: %w", err)
	}

	return factory.Run(ctx, func(ctx context.Context, s *eventpulse.Session) error {
		b, err := loadBooking(ctx, s, created.BookingID)
		if err != nil {
			return err
		}
		fmt.Printf("booking %d: status=%s pending=%d events=%d\n", b.ID(), b.Status(), b.PendingAmount(), len(b.Events()))
		return nil
	})
}

func loadBooking(ctx context.Context, s *eventpulse.Session, id int64) (*booking.Booking, error) {
	b, ok, err := booking.Load(ctx, s, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("booking %d not found", id)
	}
	return b, nil
}

// serveMetrics exposes reg on addr until the process exits.
func serveMetrics(addr string, reg *prometheus.Registry, logger *logrus.Entry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("metrics listener stopped")
		}
	}()
}
