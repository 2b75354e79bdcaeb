package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"paperfx/api/httpserver"
	"paperfx/domain/book"
	"paperfx/infra/archive"
	"paperfx/infra/feed"
	"paperfx/infra/outbox"
	"paperfx/infra/wal"
	"paperfx/jobs/archiver"
	"paperfx/jobs/broadcaster"
	"paperfx/service"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if getenv("LOG_PRETTY", "") != "" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	walDir := getenv("WAL_DIR", "data/wal")
	snapDir := getenv("SNAPSHOT_DIR", "data/snapshots")
	outboxDir := getenv("OUTBOX_DIR", "data/outbox")
	httpAddr := getenv("HTTP_ADDR", ":8080")

	cfg := service.DefaultConfig()
	cfg.MaxQuoteAge = getenvDuration(log, "MAX_QUOTE_AGE", cfg.MaxQuoteAge)
	cfg.AllowSelfMatch = getenvBool(log, "ALLOW_SELF_MATCH", cfg.AllowSelfMatch)
	cfg.AllowPartialMarketFill = getenvBool(log, "ALLOW_PARTIAL_MARKET_FILL", cfg.AllowPartialMarketFill)

	w, err := wal.Open(wal.Config{Dir: walDir})
	if err != nil {
		log.Fatal().Err(err).Str("dir", walDir).Msg("open wal")
	}
	defer w.Close()

	ob, err := outbox.Open(outboxDir)
	if err != nil {
		log.Fatal().Err(err).Str("dir", outboxDir).Msg("open outbox")
	}
	defer ob.Close()

	engine, err := service.NewEngine(cfg, log, w, ob)
	if err != nil {
		log.Fatal().Err(err).Msg("engine init")
	}

	for _, in := range instrumentsFromEnv() {
		if err := engine.RegisterInstrument(in); err != nil {
			log.Fatal().Err(err).Str("symbol", in.Symbol).Msg("register instrument")
		}
	}

	if err := engine.Recover(snapDir, walDir); err != nil {
		log.Fatal().Err(err).Msg("recovery")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	snapJob := service.NewSnapshotJob(engine, snapDir,
		getenvDuration(log, "SNAPSHOT_INTERVAL", 5*time.Minute), log)
	go snapJob.Run(ctx)

	if brokers := getenv("KAFKA_BROKERS", ""); brokers != "" {
		bc, err := broadcaster.New(broadcaster.Config{
			Brokers: strings.Split(brokers, ","),
			Topic:   getenv("EVENT_TOPIC", "paperfx.events"),
		}, ob, log)
		if err != nil {
			log.Fatal().Err(err).Msg("broadcaster init")
		}
		defer bc.Close()
		go bc.Run(ctx)

		quotes := feed.New(feed.Config{
			Brokers: strings.Split(brokers, ","),
			Topic:   getenv("QUOTE_TOPIC", "paperfx.quotes"),
			GroupID: getenv("QUOTE_GROUP", "paperfx-engine"),
		}, engine, log)
		defer quotes.Close()
		go func() {
			if err := quotes.Run(ctx); err != nil {
				log.Error().Err(err).Msg("quote feed stopped")
			}
		}()
	}

	if dsn := getenv("ARCHIVE_DSN", ""); dsn != "" {
		store, err := archive.Open(dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("archive init")
		}
		defer store.Close()
		if err := store.Init(ctx); err != nil {
			log.Fatal().Err(err).Msg("archive schema")
		}
		go archiver.New(store, ob, time.Second, log).Run(ctx)
	}

	srv := httpserver.New(engine, log)
	go func() {
		log.Info().Str("addr", httpAddr).Msg("listening")
		if err := srv.Listen(httpAddr); err != nil {
			log.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	if err := srv.Shutdown(); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	engine.Close()
	log.Info().Msg("stopped")
}

// instrumentsFromEnv parses INSTRUMENTS, e.g. "ACME:1:1,GLOBO:5:10"
// as symbol:tick:lot triples.
func instrumentsFromEnv() []book.Instrument {
	raw := getenv("INSTRUMENTS", "")
	if raw == "" {
		return nil
	}
	var out []book.Instrument
	for _, part := range strings.Split(raw, ",") {
		fields := strings.Split(strings.TrimSpace(part), ":")
		if len(fields) != 3 {
			continue
		}
		tick, err1 := strconv.ParseInt(fields[1], 10, 64)
		lot, err2 := strconv.ParseInt(fields[2], 10, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		out = append(out, book.Instrument{Symbol: fields[0], TickSize: tick, LotSize: lot})
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(log zerolog.Logger, key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("unparseable bool, using default")
		return def
	}
	return b
}

func getenvDuration(log zerolog.Logger, key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Msg("unparseable duration, using default")
		return def
	}
	return d
}
