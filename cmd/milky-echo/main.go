// Command milky-echo is a minimal Milky bot: it connects to the configured
// endpoints and echoes back every message addressed to it.  It doubles as a
// smoke test for the adapter: point it at a live endpoint and watch the
// events flow.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/rusq/osenv/v2"

	"github.com/rusq/milky"
	"github.com/rusq/milky/event"
	"github.com/rusq/milky/message"
)

var build = "dev"

// secrets defines the names of the supported secret files that we load our
// environment from.
var secrets = []string{".env", ".env.txt", "secrets.txt"}

type params struct {
	configFile   string
	nickname     string
	verbose      bool
	printVersion bool
}

// fileConfig is the TOML configuration file layout.  It mirrors the
// MILKY_CLIENTS/MILKY_WEBHOOK environment variables and adds the API limits.
type fileConfig struct {
	Clients []milky.ClientInfo `toml:"clients"`
	Webhook *milky.WebhookInfo `toml:"webhook"`
	Limits  *milky.Limits      `toml:"limits"`
}

func main() {
	loadSecrets(secrets)

	var p params
	flag.StringVar(&p.configFile, "config", osenv.Value("MILKY_CONFIG", ""), "TOML configuration `file` (overrides MILKY_CLIENTS/MILKY_WEBHOOK)")
	flag.StringVar(&p.nickname, "nickname", "", "bot `nickname` recognised at the start of a message")
	flag.BoolVar(&p.verbose, "v", os.Getenv("DEBUG") != "", "verbose messages")
	flag.BoolVar(&p.printVersion, "version", false, "print version and exit")
	flag.Parse()

	if p.printVersion {
		fmt.Println(build)
		return
	}
	initLog(p.verbose)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, p); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// loadSecrets load secrets from the files in the list.
func loadSecrets(files []string) {
	for _, f := range files {
		_ = godotenv.Load(f)
	}
}

func initLog(verbose bool) {
	if verbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}
}

func run(ctx context.Context, p params) error {
	cfg, limits, err := loadConfig(p.configFile)
	if err != nil {
		return err
	}

	opts := []milky.Option{
		milky.WithLimits(limits),
	}
	if p.nickname != "" {
		opts = append(opts, milky.WithNicknames(p.nickname))
	}

	adapter, err := milky.New(cfg, milky.HandlerFunc(echo), opts...)
	if err != nil {
		return err
	}
	defer adapter.Close()

	for _, s := range adapter.Sessions() {
		slog.Info("configured", "endpoint", s.Endpoint(), "state", s.State())
	}
	return adapter.Run(ctx)
}

// loadConfig reads the TOML file if given, otherwise falls back to the
// environment.
func loadConfig(filename string) (*milky.Config, milky.Limits, error) {
	limits := milky.DefLimits
	if filename == "" {
		cfg, err := milky.FromEnv()
		if err != nil {
			return nil, limits, err
		}
		return cfg, limits, nil
	}

	var fc fileConfig
	if _, err := toml.DecodeFile(filename, &fc); err != nil {
		return nil, limits, fmt.Errorf("config file %s: %w", filename, err)
	}
	if fc.Limits != nil {
		if err := limits.Apply(*fc.Limits); err != nil {
			return nil, limits, fmt.Errorf("config file %s: %w", filename, err)
		}
	}
	cfg := &milky.Config{Clients: fc.Clients, Webhook: fc.Webhook}
	if err := cfg.Validate(); err != nil {
		return nil, limits, err
	}
	return cfg, limits, nil
}

// echo answers every message addressed to the bot with its own text.
func echo(ctx context.Context, s *milky.Session, ev event.Event) {
	switch e := ev.(type) {
	case *event.Message:
		slog.Info("message", "endpoint", s.Endpoint(), "session", e.SessionID(), "to_me", e.ToMe, "text", e.Data.Segments.String())
		if !e.ToMe {
			return
		}
		if _, err := s.Send(ctx, e, message.Plain(e.Data.Segments.JoinedText())); err != nil {
			slog.Error("send failed", "endpoint", s.Endpoint(), "error", err)
		}
	case *event.FriendRequest:
		slog.Info("friend request", "endpoint", s.Endpoint(), "from", e.Data.OperatorID)
	case *event.Recall:
		slog.Info("message recalled", "endpoint", s.Endpoint(), "seq", e.Data.MessageSeq)
	case *event.Unknown:
		slog.Debug("unsupported event", "endpoint", s.Endpoint(), "event_type", e.EventType())
	}
}
