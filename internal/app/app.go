// Package app wires configuration into the running components shared by
// the API server, the scheduler and the operator CLI.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Cypherspark/mailing/internal/cache"
	"github.com/Cypherspark/mailing/internal/config"
	"github.com/Cypherspark/mailing/internal/core"
	"github.com/Cypherspark/mailing/internal/db"
	"github.com/Cypherspark/mailing/internal/dispatch"
	"github.com/Cypherspark/mailing/internal/lock"
	"github.com/Cypherspark/mailing/internal/provider"
	"github.com/Cypherspark/mailing/internal/service"
)

type App struct {
	DB         *db.DB
	Store      *core.Store
	Redis      *redis.Client // nil when Redis is not configured
	Dispatcher *dispatch.Dispatcher
	Service    *service.Service
}

// New opens the database and, when configured, Redis. Without Redis the
// cache is disabled and run locks fall back to Postgres advisory locks.
func New(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*App, error) {
	database, err := db.Open(ctx, cfg.DB.URL, db.PoolOptions{MaxConns: cfg.DB.MaxConns, MinConns: cfg.DB.MinConns})
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	a := &App{DB: database, Store: core.NewStore(database)}

	var (
		c      cache.Cache = cache.Nop{}
		locker lock.Locker = lock.NewPGLocker(database.SQL())
	)
	if cfg.Redis.URL != "" {
		rdb, err := cache.Dial(ctx, cfg.Redis.URL)
		if err != nil {
			database.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.Redis = rdb
		c = cache.NewRedis(rdb, cfg.Redis.Prefix)
		locker = lock.NewRedisLocker(rdb, cfg.Dispatch.LockTTL)
	} else {
		log.Warn("redis not configured: cache disabled, using postgres advisory locks")
	}

	mailer, err := NewMailer(ctx, cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Dispatcher = dispatch.New(a.Store, mailer, locker, log, dispatch.Options{
		From:        cfg.Mail.From,
		SendTimeout: cfg.Dispatch.SendTimeout,
		QPS:         cfg.Dispatch.QPS,
		Burst:       cfg.Dispatch.Burst,
	})
	a.Service = service.New(a.Store, c, a.Dispatcher, log)
	return a, nil
}

// NewMailer picks the transport named by MAIL_DRIVER.
func NewMailer(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (provider.Mailer, error) {
	switch cfg.Mail.Driver {
	case "console":
		return provider.NewConsole(log), nil
	case "smtp":
		return provider.NewSMTP(provider.SMTPOptions{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			StartTLS: cfg.SMTP.StartTLS,
		}), nil
	case "ses":
		m, err := provider.NewSES(ctx, provider.SESOptions{
			Region:           cfg.SES.Region,
			AccessKeyID:      cfg.SES.AccessKeyID,
			SecretAccessKey:  cfg.SES.SecretAccessKey,
			ConfigurationSet: cfg.SES.ConfigurationSet,
		})
		if err != nil {
			return nil, fmt.Errorf("ses: %w", err)
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown mail driver %q", cfg.Mail.Driver)
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	a.DB.Close()
}
