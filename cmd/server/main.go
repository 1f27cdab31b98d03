package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/cursor-rooms/internal/broadcast"
	"github.com/koopa0/system-design/cursor-rooms/internal/config"
	"github.com/koopa0/system-design/cursor-rooms/internal/events"
	"github.com/koopa0/system-design/cursor-rooms/internal/handler"
	"github.com/koopa0/system-design/cursor-rooms/internal/hub"
	"github.com/koopa0/system-design/cursor-rooms/internal/metrics"
	"github.com/koopa0/system-design/cursor-rooms/internal/room"
	"github.com/koopa0/system-design/cursor-rooms/internal/router"
	"github.com/koopa0/system-design/cursor-rooms/internal/stats"
	"github.com/koopa0/system-design/cursor-rooms/pkg/logger"
)

func main() {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "", "設定檔路徑 (YAML)")
		port       = flag.Int("port", 0, "服務器端口，覆蓋設定檔")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)，覆蓋設定檔")
		logFormat  = flag.String("log-format", "", "日誌格式 (text, json)，覆蓋設定檔")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log, logCloser, err := logger.New(logger.Options{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		Output:    cfg.Log.Output,
		AddSource: cfg.Log.AddSource,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup logger: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("服務器異常結束", "error", err)
		_ = logCloser.Close()
		os.Exit(1)
	}
	_ = logCloser.Close()
}

func run(cfg *config.Config, log *slog.Logger) error {
	// 房間與配對狀態
	manager := room.NewManager(log,
		room.WithCodeGenerator(room.NewRandomCodes(cfg.Rooms.CodeLength)),
		room.WithMaxCodeAttempts(cfg.Rooms.MaxCodeAttempts),
	)

	wsHub := hub.New(hub.Config{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		SendBuffer:      cfg.WebSocket.SendBuffer,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		WriteWait:       cfg.WebSocket.WriteWait,
		PongWait:        cfg.WebSocket.PongWait,
		PingInterval:    cfg.WebSocket.PingInterval,
		AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
	}, log)

	var (
		observers router.Observers
		drops     broadcast.DropCounter
		metricsH  http.Handler
	)

	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m := metrics.New(reg, metrics.Sources{
			Rooms:       manager.Stats,
			Connections: wsHub.ConnectionCount,
		})
		observers = append(observers, m)
		drops = m
		metricsH = metrics.Handler(reg)
	}

	// 累計計數
	store, err := newStatsStore(cfg.Stats, log)
	if err != nil {
		return err
	}
	defer closeQuietly(log, "stats store", store)

	recorder := stats.NewRecorder(store, cfg.Stats.FlushInterval, log)
	recorder.Start()
	observers = append(observers, recorder)

	// 生命週期事件
	var (
		publisher *events.Publisher
		natsConn  *nats.Conn
	)
	if cfg.NATS.Enabled {
		natsConn, err = events.Connect(cfg.NATS.URL, cfg.NATS.Name, log)
		if err != nil {
			_ = recorder.Close(context.Background())
			return fmt.Errorf("connect nats: %w", err)
		}
		publisher = events.NewPublisher(natsConn, events.Config{
			Prefix:    cfg.NATS.SubjectPrefix,
			QueueSize: cfg.NATS.QueueSize,
		}, log)
		observers = append(observers, publisher)
	}

	fanout := broadcast.New(wsHub, drops, log)

	rt := router.New(manager, fanout, router.Config{
		InboxSize: cfg.Router.InboxSize,
		Observer:  observers,
	}, log)
	rt.Start()

	h := handler.New(manager, handler.Options{
		WebSocket:   wsHub.ServeWS(rt),
		Metrics:     metricsH,
		MetricsPath: cfg.Metrics.Path,
		Lifetime:    recorder,
		Connections: wsHub.ConnectionCount,
	}, log)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("房間服務器啟動",
			"addr", server.Addr,
			"log_level", cfg.Log.Level,
			"stats_backend", cfg.Stats.Backend,
			"nats", cfg.NATS.Enabled,
			"metrics", cfg.Metrics.Enabled)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// 等待中斷信號
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		log.Info("收到關閉信號，開始優雅關閉...", "signal", sig.String())
	case err := <-serverErr:
		runErr = fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(ctx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
	}

	// hub.Stop 返回時所有斷線事件都已排入 router，router.Stop 會處理完才返回
	wsHub.Stop()
	rt.Stop()

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Warn("事件發佈收尾失敗", "error", err)
		}
		natsConn.Close()
	}

	if err := recorder.Close(ctx); err != nil {
		log.Warn("統計寫回失敗", "error", err)
	}

	log.Info("服務器已關閉")
	return runErr
}

// newStatsStore 依設定建立累計計數的儲存
func newStatsStore(cfg config.StatsConfig, log *slog.Logger) (stats.Store, error) {
	if cfg.Backend != "redis" {
		return stats.NewMemoryStore(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	store := stats.NewRedisStore(client, cfg.Redis.Key)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}

	log.Info("統計後端就緒", "backend", "redis", "addr", cfg.Redis.Addr, "key", cfg.Redis.Key)
	return store, nil
}

func closeQuietly(log *slog.Logger, name string, c io.Closer) {
	if err := c.Close(); err != nil {
		log.Warn("關閉失敗", "component", name, "error", err)
	}
}
