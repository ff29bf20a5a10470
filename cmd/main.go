package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andesco/savedata/handlers"
	"github.com/andesco/savedata/pkg/carbstatus"
	"github.com/andesco/savedata/pkg/config"
	"github.com/andesco/savedata/pkg/logger"

	"github.com/akamensky/argparse"
	"github.com/sirupsen/logrus"
)

var version = "dev"

func main() {
	parser := argparse.NewParser("savedata", "Adds a save-data signal to pages served on slow or dirty networks")

	port := parser.String("p", "port", &argparse.Options{
		Required: false,
		Help:     "Port the webserver will listen on (overrides PORT and the config file)",
	})
	configPath := parser.String("c", "config", &argparse.Options{
		Required: false,
		Default:  os.Getenv("CONFIG"),
		Help:     "YAML config file",
	})
	prefork := parser.Flag("P", "prefork", &argparse.Options{
		Required: false,
		Help:     "This will spawn multiple processes listening",
	})
	logLevel := parser.String("l", "log-level", &argparse.Options{
		Required: false,
		Help:     "Log level: trace, debug, info, warn, error",
	})
	showVersion := parser.Flag("v", "version", &argparse.Options{
		Required: false,
		Help:     "Print the version and exit",
	})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(2)
	}

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}
	if *prefork {
		cfg.Prefork = true
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger.Setup(cfg.LogLevel, cfg.LogFile)
	logrus.Infof("savedata %s, carbstatus endpoint %s, threshold %v", version, cfg.Endpoint, cfg.Threshold)
	if len(cfg.AllowedDomains) > 0 {
		logrus.Infof("allowed domains: %v", cfg.AllowedDomains)
	}

	client := carbstatus.NewClient(carbstatus.Options{
		Endpoint:  cfg.Endpoint,
		UserAgent: cfg.UserAgent,
		Timeout:   cfg.HTTPTimeout(),
		CacheTTL:  cfg.LookupCacheTTL(),
		CacheSize: cfg.CacheSize,
	})
	app := handlers.NewApp(cfg, client)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		s := <-sig
		logrus.Infof("received %s, shutting down", s)
		if err := app.Shutdown(); err != nil {
			logrus.Errorf("shutdown: %v", err)
		}
	}()

	logrus.Infof("listening on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		logrus.Fatal(err)
	}
}
