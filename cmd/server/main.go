package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/NicolasHaas/parley/pkg/datastore"
	"github.com/NicolasHaas/parley/pkg/logging"
	"github.com/NicolasHaas/parley/pkg/server"
	"github.com/NicolasHaas/parley/pkg/translate"
	"github.com/NicolasHaas/parley/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "YAML config file (optional)")
	host := flag.String("host", "", "Bind host (empty for all interfaces)")
	port := flag.Int("port", 0, "Listen port")
	origins := flag.String("origins", "", "Comma separated allowed websocket origins, * for any")
	translatorURL := flag.String("translator-url", "", "Translation service endpoint")
	translatorTimeout := flag.Duration("translator-timeout", 0, "Per-request translation timeout")
	pairingDelay := flag.Duration("pairing-delay", 0, "Debounce window before queued users are paired")
	skipDetected := flag.Bool("skip-detected", false, "Skip translating text already in the target language")
	cacheBackend := flag.String("cache", "", "Translation cache: memory, sqlite or none")
	cachePath := flag.String("cache-path", "", "SQLite cache file path")
	cacheTTL := flag.Duration("cache-ttl", 0, "Drop cached translations unused for this long (0 keeps them)")
	logLevel := flag.String("log-level", "", "Log level: "+logging.LevelNames())
	logFormat := flag.String("log-format", "", "Log format: text or json")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}

	// A missing .env file is fine; real environment variables still apply.
	_ = godotenv.Load()

	cfg, err := server.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	// Only flags given on the command line override file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "port":
			cfg.Port = *port
		case "origins":
			cfg.AllowedOrigins = server.SplitOrigins(*origins)
		case "translator-url":
			cfg.TranslatorURL = *translatorURL
		case "translator-timeout":
			cfg.TranslatorTimeout = *translatorTimeout
		case "pairing-delay":
			cfg.PairingDelay = *pairingDelay
		case "skip-detected":
			cfg.SkipDetected = *skipDetected
		case "cache":
			cfg.CacheBackend = *cacheBackend
		case "cache-path":
			cfg.CachePath = *cachePath
		case "cache-ttl":
			cfg.CacheTTL = *cacheTTL
		case "log-level":
			cfg.LogLevel = *logLevel
		case "log-format":
			cfg.LogFormat = *logFormat
		}
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := logging.Setup(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: os.Stdout,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	cache, err := datastore.Open(cfg.CacheBackend, cfg.CachePath)
	if err != nil {
		slog.Error("open translation cache", "backend", cfg.CacheBackend, "err", err)
		os.Exit(1)
	}

	gw := translate.NewGateway(translate.Options{
		Endpoint: cfg.TranslatorURL,
		Timeout:  cfg.TranslatorTimeout,
		Cache:    cache,
		Logger:   slog.Default().With(logging.Component("translate")),
	})
	slog.Debug("translator configured", "url", cfg.TranslatorURL, "timeout", cfg.TranslatorTimeout.Round(time.Millisecond))

	srv := server.New(cfg, server.Dependencies{Translator: gw, Cache: cache})
	if err := srv.Run(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
