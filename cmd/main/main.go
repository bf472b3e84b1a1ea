package main

import (
	"context"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/wabridge/wabridge/internal/api"
	"github.com/wabridge/wabridge/internal/bus"
	"github.com/wabridge/wabridge/internal/channel"
	"github.com/wabridge/wabridge/pkg/env"
	"github.com/wabridge/wabridge/pkg/log"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authDir := env.GetEnvStringOrDefault("WHATSAPP_AUTH_DIR", "auth")
	allowFrom := strings.Split(env.GetEnvStringOrDefault("WHATSAPP_ALLOW_FROM", ""), ",")
	ratePerMinute := env.GetEnvIntOrDefault("BUS_RATE_PER_MINUTE", 60)
	rateBurst := env.GetEnvIntOrDefault("BUS_RATE_BURST", 10)
	address := env.GetEnvStringOrDefault("SERVER_ADDRESS", "0.0.0.0")
	port := env.GetEnvIntOrDefault("SERVER_PORT", 3000)

	b := bus.New(ratePerMinute, rateBurst)
	ch := channel.New(channel.Config{AuthDir: authDir, AllowFrom: allowFrom}, b)

	if err := ch.Start(ctx); err != nil {
		log.Bridge("startup").WithError(err).Fatal("Failed to start WhatsApp channel")
	}

	scheduler := cron.New()
	if _, err := scheduler.AddFunc("*/5 * * * *", func() {
		log.Bridge("health").
			WithField("status", string(ch.Status())).
			WithField("inbound_depth", b.InboundDepth()).
			WithField("outbound_depth", b.OutboundDepth()).
			Info("Health check")
	}); err != nil {
		log.Bridge("startup").WithError(err).Fatal("Failed to register health check")
	}
	scheduler.Start()
	defer scheduler.Stop()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())
	app.Use(cors.New())
	api.Routes(app, ch)

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		addr := address + ":" + strconv.Itoa(port)
		log.Bridge("startup").Info("Listening on " + addr)
		return app.Listen(addr)
	})

	// Deliver replies queued by API consumers back through the channel.
	group.Go(func() error {
		for {
			msg, ok := b.ConsumeOutbound(gctx)
			if !ok {
				return nil
			}
			if err := ch.Send(gctx, msg.Chat, msg.Text); err != nil {
				log.Channel(channel.Name).WithError(err).Error("Failed to deliver outbound message")
			}
		}
	})

	// No agent is attached in this binary; drain the inbound queue so it
	// never fills, and log what came in.
	group.Go(func() error {
		for {
			msg, ok := b.ConsumeInbound(gctx)
			if !ok {
				return nil
			}
			log.Bus().
				WithField("sender", msg.Sender).
				WithField("chat", msg.Chat).
				Info("Inbound message: " + msg.Text)
		}
	})

	group.Go(func() error {
		<-gctx.Done()
		log.Bridge("shutdown").Info("Shutting down")
		ch.Stop()
		return app.Shutdown()
	})

	if err := group.Wait(); err != nil {
		log.Bridge("shutdown").WithError(err).Error("Exited with error")
	}
}
