// Command mailworker delivers the emails the server queues when
// MAIL_TRANSPORT=queue. It consumes MAIL_QUEUE and sends each message
// through Resend, reconnecting to the broker with backoff until it receives
// SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sakif/infinite-studio/internal/config"
	"github.com/sakif/infinite-studio/internal/notify"
)

const (
	prefetch   = 20
	maxBackoff = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel})).
		With(slog.String("component", "mailworker"))

	if cfg.ResendAPIKey == "" {
		logger.Error("RESEND_API_KEY is required by the mail worker")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	worker := notify.NewWorker(
		notify.NewResendSender(notify.StaticCredentials(cfg.ResendAPIKey, cfg.MailFrom)),
		logger,
	)

	run(ctx, cfg, worker, logger)
	logger.Info("mail worker stopped")
}

// run dials the broker and consumes until ctx is done, redialing whenever the
// connection drops.
func run(ctx context.Context, cfg *config.Config, worker *notify.Worker, logger *slog.Logger) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			logger.Warn("dialing broker failed",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", backoff),
			)
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consume(ctx, conn, cfg.MailQueue, worker, logger)
		conn.Close()
		if err == nil || errors.Is(err, context.Canceled) {
			return
		}
		logger.Warn("consumer stopped, reconnecting", slog.String("error", err.Error()))
		if !sleep(ctx, 2*time.Second) {
			return
		}
	}
}

func consume(ctx context.Context, conn *amqp.Connection, queue string, worker *notify.Worker, logger *slog.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		logger.Warn("setting QoS failed", slog.String("error", err.Error()))
	}
	if err := notify.DeclareQueue(ch, queue); err != nil {
		return err
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consuming %s: %w", queue, err)
	}

	logger.Info("consuming", slog.String("queue", queue))
	return worker.Consume(ctx, deliveries)
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
