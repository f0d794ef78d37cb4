package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cassiomorais/ordercompletion/internal/application/completion"
	"github.com/cassiomorais/ordercompletion/internal/bootstrap"
	domainErrors "github.com/cassiomorais/ordercompletion/internal/domain/errors"
	"github.com/cassiomorais/ordercompletion/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/ordercompletion/internal/infrastructure/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "ordercompletion-worker", "ordercompletion_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	comp, err := app.Completion()
	if err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to wire completion service")
	}

	// Signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Due-job dispatcher.
	g.Go(func() error {
		return comp.Dispatcher.Run(gCtx)
	})

	// 2. Completion requests (reads from Redis Streams).
	workerCfg := app.Config.Worker
	if workerCfg.ConsumeStreams {
		consumer := infraRedis.NewStreamConsumer(
			app.Redis,
			infraRedis.CompletionRequestStream,
			workerCfg.ConsumerGroup,
			app.Config.InstanceID,
			workerCfg.BatchSize,
			workerCfg.BlockDuration,
		)
		if err := consumer.CreateGroup(ctx); err != nil {
			app.Logger.Error().Err(err).Msg("Failed to create consumer group")
		}
		producer := infraRedis.NewStreamProducer(app.Redis)

		app.Logger.Info().
			Str("stream", consumer.Stream()).
			Str("group", workerCfg.ConsumerGroup).
			Str("consumer", app.Config.InstanceID).
			Msg("Listening for completion requests")

		g.Go(func() error {
			return runCompletionConsumer(gCtx, app.Logger, consumer, producer, comp.Service, app.Metrics, workerCfg.ClaimIdle)
		})
	}

	// 3. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

func runCompletionConsumer(
	ctx context.Context,
	logger zerolog.Logger,
	consumer *infraRedis.StreamConsumer,
	producer *infraRedis.StreamProducer,
	service *completion.Service,
	metrics *observability.Metrics,
	claimIdle time.Duration,
) error {
	handle := func(msg redis.XMessage) {
		handleCompletionRequest(ctx, logger, consumer, producer, service, metrics, msg)
	}

	// Requests that errored, or were in flight when a worker stopped, stay in
	// the group's pending list until they are claimed again.
	reclaim := func() {
		messages, err := consumer.ClaimPending(ctx, claimIdle)
		if err != nil {
			if ctx.Err() == nil {
				logger.Error().Err(err).Msg("Failed to reclaim pending completion requests")
			}
			return
		}
		if len(messages) > 0 {
			logger.Info().Int("count", len(messages)).Msg("Reclaimed unacknowledged completion requests")
		}
		for _, msg := range messages {
			handle(msg)
		}
	}

	reclaim()
	lastClaim := time.Now()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if time.Since(lastClaim) >= claimIdle {
			reclaim()
			lastClaim = time.Now()
		}

		messages, err := consumer.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Error().Err(err).Msg("Failed to read from stream")
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			handle(msg)
		}
	}
}

func handleCompletionRequest(
	ctx context.Context,
	logger zerolog.Logger,
	consumer *infraRedis.StreamConsumer,
	producer *infraRedis.StreamProducer,
	service *completion.Service,
	metrics *observability.Metrics,
	msg redis.XMessage,
) {
	stream := consumer.Stream()

	orderID, ok := infraRedis.OrderID(msg)
	if !ok {
		logger.Error().Str("message_id", msg.ID).Msg("Completion request without order_id")
		producer.PublishToDLQ(ctx, "", "missing order_id", msg.Values)
		metrics.StreamMessagesProcessed.WithLabelValues(stream, "invalid").Inc()
		consumer.Ack(ctx, msg.ID)
		return
	}

	res, err := service.RequestCompletion(ctx, orderID)
	switch {
	case errors.Is(err, domainErrors.ErrOrderNotFound):
		logger.Warn().Str("order_id", orderID).Msg("Completion requested for unknown order")
		producer.PublishToDLQ(ctx, orderID, err.Error(), msg.Values)
		metrics.StreamMessagesProcessed.WithLabelValues(stream, "dead_letter").Inc()
	case err != nil:
		// Left unacked; reclaim picks it up once it has been idle for claim_idle.
		logger.Error().Err(err).Str("order_id", orderID).Msg("Failed to process completion request")
		metrics.StreamMessagesProcessed.WithLabelValues(stream, "error").Inc()
		return
	default:
		logger.Info().
			Str("order_id", orderID).
			Stringer("decision", res.Decision).
			Msg("Completion request processed")
		metrics.StreamMessagesProcessed.WithLabelValues(stream, "success").Inc()
	}
	consumer.Ack(ctx, msg.ID)
}
