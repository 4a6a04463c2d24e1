package internal

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/siapay/config"
	"github.com/vadiminshakov/siapay/internal/clients"
	"github.com/vadiminshakov/siapay/internal/events"
	"github.com/vadiminshakov/siapay/internal/services/balance"
	"github.com/vadiminshakov/siapay/internal/services/issuer"
	"github.com/vadiminshakov/siapay/internal/services/scanner"
	"github.com/vadiminshakov/siapay/internal/storage"
	"github.com/vadiminshakov/siapay/internal/web"
)

// broadcastBuffer is the per-subscriber queue of the in-process entry stream.
const broadcastBuffer = 64

// App wires the wallet client, the ledger and the services built on them.
type App struct {
	Config      config.Config
	Wallet      *clients.SiaClient
	Ledger      storage.Ledger
	Scanner     *scanner.Scanner
	Issuer      *issuer.Issuer
	Balances    *balance.Service
	Broadcaster *events.EntryBroadcaster
	Reconciler  *Reconciler

	logger *zap.Logger
	kafka  *events.KafkaPublisher
}

// NewApp opens the ledger and builds every component described by conf.
// The wallet daemon is not contacted until a component uses it.
func NewApp(ctx context.Context, logger *zap.Logger, conf config.Config) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	wallet, err := clients.NewSiaClient(logger.Named("sia"), conf.RPCAddress, clients.WithAPIPassword(conf.APIPassword))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create wallet client")
	}

	ledger, err := storage.Open(ctx, storage.Options{Kind: conf.Storage, WALDir: conf.WALDir, DSN: conf.DatabaseDSN})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open ledger")
	}

	a := &App{
		Config:      conf,
		Wallet:      wallet,
		Ledger:      ledger,
		Balances:    balance.New(ledger),
		Broadcaster: events.NewEntryBroadcaster(broadcastBuffer),
		logger:      logger,
	}

	var opts []scanner.Option
	if conf.UseWatermark {
		opts = append(opts, scanner.WithCheckpointer(ledger))
	}
	a.Scanner, err = scanner.New(logger.Named("scanner"), wallet, ledger, conf.FloorHeight, opts...)
	if err != nil {
		_ = a.Close()
		return nil, errors.Wrap(err, "failed to create scanner")
	}

	a.Issuer, err = issuer.New(logger.Named("issuer"), wallet, ledger, conf.ReceivableTTL)
	if err != nil {
		_ = a.Close()
		return nil, errors.Wrap(err, "failed to create issuer")
	}

	sinks := []events.Sink{a.Broadcaster}
	if len(conf.KafkaBrokers) > 0 {
		a.kafka, err = events.NewKafkaPublisher(conf.KafkaBrokers, conf.KafkaTopic)
		if err != nil {
			_ = a.Close()
			return nil, errors.Wrap(err, "failed to create kafka publisher")
		}
		sinks = append(sinks, a.kafka)
	}

	a.Reconciler, err = NewReconciler(logger.Named("reconciler"), a.Scanner, conf.ScanInterval, conf.ProcessAll, sinks...)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	return a, nil
}

// Server returns the HTTP API, or nil when it is disabled.
func (a *App) Server() *web.Server {
	if a.Config.HTTPAddr == "" {
		return nil
	}
	return web.NewServer(a.Config.HTTPAddr, a.logger.Named("web"), a.Balances, a.Ledger, a.Issuer, a.Broadcaster,
		web.Auth{User: a.Config.HTTPUser, PasswordHash: a.Config.HTTPPasswordHash})
}

// Close releases the ledger and the event publisher.
func (a *App) Close() error {
	var first error
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.logger.Warn("Failed to close kafka publisher", zap.Error(err))
			first = err
		}
	}
	if err := a.Ledger.Close(); err != nil {
		a.logger.Warn("Failed to close ledger", zap.Error(err))
		if first == nil {
			first = err
		}
	}
	return first
}
