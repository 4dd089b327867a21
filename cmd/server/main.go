package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sshcollectorpro/sshexpect/api/router"
	"github.com/sshcollectorpro/sshexpect/internal/config"
	"github.com/sshcollectorpro/sshexpect/internal/database"
	"github.com/sshcollectorpro/sshexpect/internal/service"
	"github.com/sshcollectorpro/sshexpect/pkg/expect"
	"github.com/sshcollectorpro/sshexpect/pkg/logger"
	"github.com/sshcollectorpro/sshexpect/simulate"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(cfg.LoggerConfig()); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	logger.Infof("Starting SSH Expect Server version=%s", "1.0.0")
	if prof := strings.TrimSpace(cfg.Runner.ConcurrencyProfile); prof != "" {
		logger.Infof("Concurrency profile applied: profile=%s workers=%d", prof, cfg.Runner.Concurrent)
	} else {
		logger.Infof("Concurrency set by numeric value: workers=%d", cfg.Runner.Concurrent)
	}

	// 初始化数据库
	if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer database.Close()

	// 启动模拟器（可选）
	var sim *simulate.Server
	if cfg.Simulate.Enable {
		sim = startSimulator(cfg.Simulate.ConfigPath)
	}
	defer func() {
		if sim != nil {
			sim.Stop()
		}
	}()

	pool := expect.NewPool(cfg.SessionPoolConfig())
	defer pool.Close()

	runner := service.NewRunner(cfg, pool, service.NewStorageWriter(cfg))

	// 配置热更新：执行参数原子替换，其余配置需重启生效
	config.Watch(func(newCfg *config.Config) {
		runner.UpdateConfig(newCfg)
		logger.Infof("Runner concurrency now %d", newCfg.Runner.Concurrent)
	})

	r := router.SetupRouter(cfg.Server.Mode, runner, pool)

	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		logger.Infof("Server starting on %s (mode=%s)", server.Addr, cfg.Server.Mode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Info("Server shutdown complete")
	}
}

func startSimulator(path string) *simulate.Server {
	if path == "" {
		path = "configs/simulate.yaml"
	}
	sc, err := simulate.LoadConfig(path)
	if err != nil {
		logger.Warnf("Simulate: skip starting, %v", err)
		return nil
	}
	sim, err := simulate.NewServer(sc)
	if err != nil {
		logger.Warnf("Simulate: failed to create server: %v", err)
		return nil
	}
	if err := sim.Start(); err != nil {
		logger.Warnf("Simulate: failed to start: %v", err)
		return nil
	}
	return sim
}
