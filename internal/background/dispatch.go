package background

import (
	"context"
	"log/slog"
	"time"

	"github.com/hassanwm/vigil/internal/services"
	"github.com/hassanwm/vigil/pkg/logger"
)

// otpDelivery is one queued code delivery.
type otpDelivery struct {
	Email    string
	Username string
	Code     string
}

// OTPDispatcher decouples code delivery from the login request. Enqueue never
// blocks the caller; a worker drains the queue and retries transient mailer
// failures with backoff. Codes that still fail are dropped: the user can
// request a new one after the cooldown.
type OTPDispatcher struct {
	mailer  services.OTPMailer
	queue   chan otpDelivery
	retries int
	logger  *slog.Logger
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewOTPDispatcher(mailer services.OTPMailer, queueSize, retries int, log *slog.Logger) *OTPDispatcher {
	if queueSize <= 0 {
		queueSize = 128
	}
	if retries <= 0 {
		retries = 3
	}

	return &OTPDispatcher{
		mailer:  mailer,
		queue:   make(chan otpDelivery, queueSize),
		retries: retries,
		logger:  log,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Enqueue hands a code off for delivery. When the queue is full the delivery
// is dropped with a log line rather than stalling the login path.
func (d *OTPDispatcher) Enqueue(email, username, code string) {
	select {
	case d.queue <- otpDelivery{Email: email, Username: username, Code: code}:
	default:
		d.logger.Error("otp delivery queue full, dropping delivery",
			slog.String("email", logger.SanitizedEmail(email)))
	}
}

// Start runs the delivery worker until Stop is called or ctx is cancelled.
func (d *OTPDispatcher) Start(ctx context.Context) {
	defer close(d.doneCh)

	for {
		select {
		case delivery := <-d.queue:
			d.deliver(ctx, delivery)
		case <-d.stopCh:
			d.drain(ctx)
			d.logger.Info("otp dispatcher stopped")
			return
		case <-ctx.Done():
			d.logger.Info("otp dispatcher context cancelled")
			return
		}
	}
}

// Stop signals the worker to drain outstanding deliveries and exit. It
// returns once the worker has finished.
func (d *OTPDispatcher) Stop() {
	close(d.stopCh)
	<-d.doneCh
}

// drain attempts the deliveries still queued at shutdown.
func (d *OTPDispatcher) drain(ctx context.Context) {
	for {
		select {
		case delivery := <-d.queue:
			d.deliver(ctx, delivery)
		default:
			return
		}
	}
}

func (d *OTPDispatcher) deliver(ctx context.Context, delivery otpDelivery) {
	backoff := time.Second

	for attempt := 1; attempt <= d.retries; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := d.mailer.SendOTP(sendCtx, delivery.Email, delivery.Username, delivery.Code)
		cancel()

		if err == nil {
			return
		}

		d.logger.Warn("otp delivery attempt failed",
			slog.String("email", logger.SanitizedEmail(delivery.Email)),
			slog.Int("attempt", attempt),
			slog.Any("error", err))

		if attempt == d.retries {
			break
		}

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return
		}
	}

	d.logger.Error("otp delivery abandoned",
		slog.String("email", logger.SanitizedEmail(delivery.Email)),
		slog.Int("attempts", d.retries))
}
