// collabserver is the realtime collaboration server: it owns the room
// registry and serves one websocket per editing client.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"collabcanvas/collabws"
	"collabcanvas/crdtdoc"
	"collabcanvas/room"
	"collabcanvas/snapshot"
)

// Config holds the server settings.
type Config struct {
	HTTPAddr         string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	SnapshotInterval time.Duration
	SnapshotPrefix   string
	SnapshotTTL      time.Duration
	Debug            bool
}

func parseFlags() Config {
	var cfg Config
	flag.StringVar(&cfg.HTTPAddr, "addr", ":8080", "HTTP listen address")
	flag.StringVar(&cfg.RedisAddr, "redis-addr", "", "Redis address for document snapshots (empty disables snapshotting)")
	flag.StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password")
	flag.IntVar(&cfg.RedisDB, "redis-db", 0, "Redis database number")
	flag.DurationVar(&cfg.SnapshotInterval, "snapshot-interval", 30*time.Second, "interval between document snapshots")
	flag.StringVar(&cfg.SnapshotPrefix, "snapshot-prefix", "collab:snapshot:", "Redis key prefix for snapshots")
	flag.DurationVar(&cfg.SnapshotTTL, "snapshot-ttl", 0, "snapshot expiry (0 keeps snapshots until overwritten)")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable debug logging")
	flag.Parse()
	return cfg
}

func newLogger(debug bool) (*zap.Logger, error) {
	var config zap.Config
	if debug {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return config.Build()
}

func main() {
	cfg := parseFlags()

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	registry := room.NewRegistry(crdtdoc.NewFactory(), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.RedisAddr != "" {
		if cfg.SnapshotInterval <= 0 {
			logger.Fatal("snapshot-interval must be positive when redis-addr is set",
				zap.Duration("snapshot_interval", cfg.SnapshotInterval))
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		sink, err := snapshot.NewRedisSink(client, cfg.SnapshotPrefix, cfg.SnapshotTTL)
		if err != nil {
			logger.Fatal("failed to initialize snapshot sink", zap.Error(err))
		}
		publisher := snapshot.NewPublisher(registry, sink, cfg.SnapshotInterval, logger)
		go publisher.Run(ctx)
		logger.Info("snapshot publisher started",
			zap.String("redis_addr", cfg.RedisAddr),
			zap.Duration("interval", cfg.SnapshotInterval))
	}

	startTime := time.Now()
	mux := http.NewServeMux()
	mux.Handle("/ws", collabws.NewHandler(registry, logger))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		type roomStatus struct {
			ID           string `json:"id"`
			Participants int    `json:"participants"`
			CreatedAt    string `json:"createdAt"`
		}
		active := registry.Rooms()
		rooms := make([]roomStatus, 0, len(active))
		for _, rm := range active {
			rooms = append(rooms, roomStatus{
				ID:           rm.ID(),
				Participants: rm.ParticipantCount(),
				CreatedAt:    rm.CreatedAt().Format(time.RFC3339),
			})
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ok",
			"uptime": time.Since(startTime).String(),
			"rooms":  rooms,
		})
	})

	server := &http.Server{Addr: cfg.HTTPAddr, Handler: mux}
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown did not complete cleanly", zap.Error(err))
	}
}
