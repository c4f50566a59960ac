package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"signal_copier/internal/bot"
	"signal_copier/internal/config"
	"signal_copier/internal/gateway"
	alpacagw "signal_copier/internal/gateway/alpaca"
	"signal_copier/internal/gateway/paper"
	"signal_copier/internal/logger"
	"signal_copier/internal/models"
	"signal_copier/internal/notify"
	"signal_copier/internal/store"
	"signal_copier/internal/strategy"
	"signal_copier/internal/supervisor"
)

func main() {
	cfg := config.Load()

	log := logger.New("signal_copier.log", cfg.LogLevel, cfg.MaxLogSizeMB, cfg.MaxLogBackups)
	defer log.Sync()

	log.Info("starting signal copier",
		zap.String("strategy", cfg.Strategy),
		zap.Bool("dry_run", cfg.DryRun))

	var backend gateway.ExecutionGateway
	if cfg.DryRun {
		log.Info("dry-run mode, trading against the paper gateway")
		backend = paper.New(log)
	} else {
		backend = alpacagw.New(log)
	}

	sup := supervisor.New(backend, supervisor.Config{
		MaxAttempts:       cfg.ReconnectMaxAttempts,
		InitialDelay:      cfg.ReconnectInitialDelay,
		MaxDelay:          cfg.ReconnectMaxDelay,
		PingInterval:      cfg.PingInterval,
		KeepAliveInterval: cfg.KeepAliveInterval,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Connect(ctx); err != nil {
		log.Fatal("initial broker connection failed", zap.Error(err))
	}

	st := store.New(cfg.StateFile, cfg.MaxRecords, log)
	st.Load()
	log.Info("position store loaded", zap.Int("positions", st.Len()))

	strat, err := strategy.New(cfg.Strategy)
	if err != nil {
		log.Fatal("invalid strategy configuration", zap.Error(err))
	}

	var notifier notify.Notifier = notify.NewTelegram(
		os.Getenv("TELEGRAM_BOT_TOKEN"),
		os.Getenv("TELEGRAM_CHAT_ID"),
		log,
	)
	if cfg.DryRun {
		notifier = notify.Nop{}
	}

	coordinator := bot.New(sup, st, strat, cfg, log, notifier)

	// Events arrive as JSON lines on stdin, one classified event per line,
	// in delivery order.
	events := make(chan models.Event)
	go readEvents(os.Stdin, events, log)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown signal received")
			coordinator.Shutdown(context.Background())
			return
		case ev, ok := <-events:
			if !ok {
				log.Info("event stream closed")
				coordinator.Shutdown(context.Background())
				return
			}
			coordinator.HandleEvent(ctx, ev)
		}
	}
}

// readEvents decodes the JSON-lines event stream. A malformed line is logged
// and skipped; the stream keeps flowing.
func readEvents(f *os.File, out chan<- models.Event, log *zap.Logger) {
	defer close(out)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			log.Warn("skipping malformed event line", zap.Error(err))
			continue
		}
		out <- ev
	}
	if err := scanner.Err(); err != nil {
		log.Error("event stream read failed", zap.Error(err))
	}
}
