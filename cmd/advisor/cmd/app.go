package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/rustyeddy/advisor/allocator"
	"github.com/rustyeddy/advisor/broker"
	"github.com/rustyeddy/advisor/broker/sim"
	"github.com/rustyeddy/advisor/config"
	"github.com/rustyeddy/advisor/notify"
	"github.com/rustyeddy/advisor/rules"
	"github.com/rustyeddy/advisor/sched"
	"github.com/rustyeddy/advisor/store"
	"github.com/rustyeddy/advisor/txsync"
)

// app wires the packages together from one config file. Every command
// builds it the same way.
type app struct {
	cfg    *config.Config
	store  store.Store
	driver broker.Driver
	sched  *sched.Scheduler
	logger *log.Logger
}

func buildApp(path string) (*app, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := log.New(os.Stderr, "advisor ", log.LstdFlags)

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	drv := sim.New(cfg.Broker.Balance)
	for sym, price := range cfg.Broker.Prices {
		drv.SetPrice(sym, price)
	}

	var notifier notify.Notifier = notify.NewLog(logger)
	if cfg.Telegram.Enabled {
		token := cfg.Telegram.Token
		if env := os.Getenv("TELEGRAM_TOKEN"); env != "" {
			token = env
		}
		tg, err := notify.NewTelegram(token, cfg.Telegram.ChatID)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		notifier = notify.Multi{notify.NewLog(logger), tg}
	}

	if cfg.RulesetFile != "" {
		rulesets, err := config.LoadRulesets(cfg.RulesetFile)
		if err != nil {
			st.Close()
			return nil, err
		}
		ctx := context.Background()
		for i := range rulesets {
			if err := st.SaveRuleset(ctx, &rulesets[i]); err != nil {
				st.Close()
				return nil, fmt.Errorf("save ruleset %s: %w", rulesets[i].ID, err)
			}
		}
		logger.Printf("loaded %d rulesets from %s", len(rulesets), cfg.RulesetFile)
	}

	txs := txsync.New(st, drv, logger)
	engine := rules.New(st, drv, txs, logger)
	engine.EvaluateAll = cfg.Scheduler.EvaluateAll
	alloc := allocator.New(st, drv, txs, logger)

	return &app{
		cfg:    cfg,
		store:  st,
		driver: drv,
		sched:  sched.New(st, drv, engine, alloc, txs, notifier, cfg.Experts, logger),
		logger: logger,
	}, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		return store.NewSQLite(cfg.Store.Path)
	case "postgres":
		dsn := cfg.Store.DSN
		if env := os.Getenv("ADVISOR_PG_DSN"); env != "" {
			dsn = env
		}
		return store.NewPostgres(dsn)
	default:
		return store.NewMemory(), nil
	}
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Printf("close store: %v", err)
	}
}
