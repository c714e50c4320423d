package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/koopa0/system-design/14-match-coordinator/internal/audit"
	"github.com/koopa0/system-design/14-match-coordinator/internal/config"
	"github.com/koopa0/system-design/14-match-coordinator/internal/game"
	"github.com/koopa0/system-design/14-match-coordinator/internal/realtime"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "match coordinator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 解析命令行參數
	var (
		configPath = flag.String("config", "", "配置檔路徑（YAML）")
		port       = flag.Int("port", 0, "服務器端口（覆蓋配置檔）")
	)
	flag.Parse()

	// .env 不存在時直接讀取環境變數
	envErr := godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	// 設置日誌
	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	if envErr != nil {
		logger.Debug("未找到 .env 檔，直接使用環境變數")
	}

	// 審計事件：未設定 NATS 時不發布
	var publisher audit.Publisher = audit.NopPublisher{}
	if cfg.NATS.URL != "" {
		natsPublisher, err := audit.Connect(cfg.NATS.URL, cfg.NATS.SubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		publisher = natsPublisher
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("關閉審計發布器失敗", "error", err)
		}
	}()

	// 對局引擎
	registry := game.NewRegistry(cfg.Game, logger)
	defer registry.Stop()

	janitor, err := game.StartJanitor(registry, cfg.Game.CleanupInterval, cfg.Game.Retention, logger, nil)
	if err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	defer func() {
		if err := janitor.Shutdown(); err != nil {
			logger.Error("停止清理排程失敗", "error", err)
		}
	}()

	// 傳輸層
	hub := realtime.NewHub(registry, publisher, cfg.Realtime, logger)
	defer hub.Stop()

	sweeper, err := realtime.StartSweeper(hub, logger, nil)
	if err != nil {
		return fmt.Errorf("start connection sweeper: %w", err)
	}
	defer func() {
		if err := sweeper.Shutdown(); err != nil {
			logger.Error("停止閒置連線檢查失敗", "error", err)
		}
	}()

	handler := realtime.NewHandler(registry, hub, logger)

	// 設置路由
	mux := http.NewServeMux()
	mux.Handle("/", handler.Routes())
	mux.HandleFunc("GET /ws", hub.ServeWS)

	// 創建 HTTP 服務器
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("對局協調服務器啟動",
			"port", cfg.Server.Port,
			"log_level", cfg.Log.Level,
			"log_format", cfg.Log.Format,
			"nats_enabled", cfg.NATS.URL != "")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("收到關閉信號，開始優雅關閉...")

		// 停止接受新連接
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("服務器關閉失敗", "error", err)
			return server.Close()
		}
		return nil
	})

	// defer 依序執行：sweeper → hub → janitor → registry → publisher
	err = g.Wait()
	logger.Info("服務器已關閉")
	return err
}

// setupLogger 設置日誌
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     logLevel,
		AddSource: level == "debug", // debug 模式顯示源碼位置
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
