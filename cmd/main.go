// Command siapay keeps a reconciliation ledger over a Sia wallet daemon.
// It scans the chain for deposits paying outstanding receivables, issues
// withdrawals and serves the ledger over HTTP.
//
// Usage:
//
//	siapay [run] [flags]                        reconcile periodically and serve the HTTP API
//	siapay scan [flags]                         run a single reconciliation pass
//	siapay receivable [flags] <amount_sc> [address] [ttl]
//	siapay withdraw [flags] <amount_sc> <address>
//	siapay balance [flags] <address>
//	siapay conflicts [flags]
//	siapay wallet [flags] [unlock|lock]         wallet state; unlock reads SIA_WALLET_PASSWORD
//	siapay setup [path]                         interactive config wizard
//
// Flags are described by `siapay run --help`; --config path.yaml replaces them all.
//
// Environment variables:
//
//	SIA_API_PASSWORD           wallet daemon API password
//	SIAPAY_DATABASE_DSN        dsn of the sql ledger backends
//	SIAPAY_HTTP_PASSWORD_HASH  bcrypt hash for the HTTP API
//	SIA_WALLET_PASSWORD        wallet encryption password for `wallet unlock`
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/siapay/config"
	"github.com/vadiminshakov/siapay/internal"
	"github.com/vadiminshakov/siapay/internal/domain"
	"github.com/vadiminshakov/siapay/internal/setup"
)

func main() {
	cmd, args := "run", os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	if cmd == "setup" {
		path := setup.DefaultPath
		if len(args) > 0 {
			path = args[0]
		}
		if err := setup.RunTUI(path); err != nil {
			log.Fatal(err)
		}
		return
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	conf, rest, err := config.Get(args)
	if err != nil {
		logger.Fatal("failed to get configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := internal.NewApp(ctx, logger, conf)
	if err != nil {
		logger.Fatal("failed to start", zap.Error(err))
	}
	defer app.Close()

	if err := dispatch(ctx, app, cmd, rest); err != nil {
		logger.Error("command failed", zap.String("command", cmd), zap.Error(err))
		_ = app.Close()
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, app *internal.App, cmd string, args []string) error {
	switch cmd {
	case "run":
		return run(ctx, app)
	case "scan":
		res, err := app.Reconciler.RunOnce(ctx, app.Config.ProcessAll)
		if err != nil {
			return err
		}
		return printJSON(res)
	case "receivable":
		return receivable(ctx, app, args)
	case "withdraw":
		if len(args) != 2 {
			return errors.New("usage: siapay withdraw <amount_sc> <address>")
		}
		amount, err := domain.ParseSiacoins(args[0])
		if err != nil {
			return err
		}
		entry, err := app.Issuer.IssueWithdrawal(ctx, amount, args[1])
		if err != nil {
			return err
		}
		return printJSON(entry)
	case "balance":
		if len(args) != 1 {
			return errors.New("usage: siapay balance <address>")
		}
		st, err := app.Balances.ReceivableStatus(ctx, args[0], time.Now())
		if err != nil {
			return err
		}
		return printJSON(st)
	case "conflicts":
		conflicts, err := app.Ledger.Conflicts(ctx)
		if err != nil {
			return err
		}
		return printJSON(conflicts)
	case "wallet":
		return wallet(ctx, app, args)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// run reconciles and serves the API until a signal arrives.
func run(ctx context.Context, app *internal.App) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := app.Reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if srv := app.Server(); srv != nil {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	return g.Wait()
}

func receivable(ctx context.Context, app *internal.App, args []string) error {
	if len(args) < 1 || len(args) > 3 {
		return errors.New("usage: siapay receivable <amount_sc> [address] [ttl]")
	}

	amount, err := domain.ParseSiacoins(args[0])
	if err != nil {
		return err
	}

	ttl := app.Config.ReceivableTTL
	if len(args) == 3 {
		if ttl, err = time.ParseDuration(args[2]); err != nil {
			return errors.Wrapf(err, "invalid ttl %q", args[2])
		}
	}

	var entry domain.Entry
	if len(args) == 1 {
		entry, err = app.Issuer.OpenReceivable(ctx, amount, ttl)
	} else {
		entry, err = app.Issuer.RegisterReceivable(ctx, amount, args[1], time.Now().Add(ttl))
	}
	if err != nil {
		return err
	}

	return printJSON(entry)
}

func wallet(ctx context.Context, app *internal.App, args []string) error {
	if len(args) > 1 {
		return errors.New("usage: siapay wallet [unlock|lock]")
	}

	if len(args) == 1 {
		var err error
		switch args[0] {
		case "unlock":
			err = app.Wallet.Unlock(ctx, os.Getenv("SIA_WALLET_PASSWORD"))
		case "lock":
			err = app.Wallet.Lock(ctx)
		default:
			return fmt.Errorf("unknown wallet action %q", args[0])
		}
		if err != nil {
			return err
		}
	}

	info, err := app.Wallet.Wallet(ctx)
	if err != nil {
		return err
	}
	return printJSON(info)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
