package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"etlsched/internal/config"
	"etlsched/internal/jobs"
	"etlsched/internal/registry"
	"etlsched/internal/server"
	"etlsched/internal/service"
	"etlsched/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	logs, log := logx.New(cfg.Logging.Logx())

	reg := registry.New()
	jobs.RegisterAll(reg)

	svc, err := service.New(cfg, reg, logs, log.With(logx.String("svc", "scheduler")))
	if err != nil {
		log.Error("scheduler init failed", logx.Err(err))
		logs.Close()
		os.Exit(1)
	}

	if err := svc.Startup(ctx); err != nil {
		log.Error("scheduler startup failed", logx.Err(err))
		logs.Close()
		os.Exit(1)
	}

	srv := server.New(server.Config{
		Enabled: cfg.Server.Enabled,
		Addr:    cfg.Server.Addr,
	}, svc, log.With(logx.String("svc", "http")))
	if err := srv.Start(); err != nil {
		log.Error("http server start failed", logx.Err(err))
		svc.Shutdown(true)
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	srv.Stop(context.Background())
	svc.Shutdown(true)
}
