package app

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"remindbot/internal/config"
	"remindbot/internal/eventbus"
	rtsup "remindbot/internal/runtime/supervisor"
	"remindbot/internal/services/deliver"
	"remindbot/internal/services/engine"
	"remindbot/internal/storage"
	kit "remindbot/internal/transport"
	telegram "remindbot/internal/transport/telegram"
	logx "remindbot/pkg/logx"
)

// App wires the process: config, logging, storage, transport, delivery and
// the scheduling engine.
type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter
	dlv     *deliver.Service
	eng     *engine.Service

	updates chan kit.Update
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	token := strings.TrimSpace(cfg.Telegram.Token)
	if token == "" {
		// .env fallback keeps the token out of the config file.
		token = strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN"))
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{Token: token, PollTimeout: pollTimeout}, bootLog)
	if err != nil {
		return nil, err
	}

	// logx.New applies immediately; if the Telegram sink were enabled before
	// its target chat is set, Apply would warn. Bootstrap with the sink off,
	// set the target, then apply the real flag.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))
	setLogTarget(logSvc, cfg)
	logSvc.Apply(mapLogConfig(cfg))

	bus := eventbus.New()

	store, err := storage.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	dcfg, err := cfg.Delivery.Settings()
	if err != nil {
		return nil, err
	}
	dlv := deliver.New(dcfg, ad, log)

	ecfg, err := cfg.Engine.Settings()
	if err != nil {
		return nil, err
	}
	eng := engine.New(mapEngineConfig(ecfg), store, dlv, bus, log)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		dlv:     dlv,
		eng:     eng,
		updates: make(chan kit.Update, 256),
	}, nil
}

// Engine exposes the scheduling engine (snapshots, tests).
func (a *App) Engine() *engine.Service { return a.eng }

// Store exposes the persistence gateway for the command surface.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func setLogTarget(logs *logx.Service, cfg *config.Config) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		// Clearing the target via hot reload is allowed.
		logs.SetTelegramTarget(0, 0)
		return
	}
	if chatID, err := strconv.ParseInt(raw, 10, 64); err == nil {
		logs.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := storage.Config{Driver: "sqlite", Path: "./remindbot.db"}
	// The creation horizon cap lives in the engine section but is enforced
	// by the store gateway.
	if es, err := cfg.Engine.Settings(); err == nil {
		sc.MaxHorizon = es.MaxHorizon
	}
	if cfg.Storage == nil {
		return sc
	}
	if d := strings.TrimSpace(cfg.Storage.Driver); d != "" {
		sc.Driver = d
	}
	if p := strings.TrimSpace(cfg.Storage.Path); p != "" {
		sc.Path = p
	}
	if bt, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err == nil {
		sc.BusyTimeout = bt
	}
	return sc
}

func mapEngineConfig(s config.EngineSettings) engine.Config {
	return engine.Config{
		Enabled:          s.Enabled,
		ProducerInterval: s.ProducerInterval,
		ConsumerInterval: s.ConsumerInterval,
		Lookahead:        s.Lookahead,
		DupRetryLimit:    s.DupRetryLimit,
	}
}

func validateConfig(_ context.Context, cfg *config.Config) error {
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if cfg.Storage != nil {
		if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}
	if _, err := cfg.Engine.Settings(); err != nil {
		return err
	}
	if _, err := cfg.Delivery.Settings(); err != nil {
		return err
	}
	return nil
}
