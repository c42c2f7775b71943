package main

import (
	"flag"
	"log"
	"os"

	"github.com/gonglijing/iotconsole/internal/app"
	"github.com/gonglijing/iotconsole/internal/config"
	"github.com/gonglijing/iotconsole/internal/logger"
)

var (
	configPath string
	listenAddr string
)

func init() {
	// 解析命令行参数
	flag.StringVar(&configPath, "config", "", "配置文件路径")
	flag.StringVar(&listenAddr, "addr", "", "监听地址（覆盖配置）")
}

func main() {
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if listenAddr != "" {
		cfg.ListenAddr = listenAddr
	}

	logger.Configure(cfg.LogLevel, cfg.LogJSON)
	defer func() { _ = logger.Sync() }()

	if err := app.Run(cfg); err != nil {
		logger.Error("Console stopped", err)
		_ = logger.Sync()
		os.Exit(1)
	}
}
