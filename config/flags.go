package config

import (
	"flag"
	"fmt"
	"strings"
)

// getFromCLI parses args into a config over the defaults. It also returns
// the --config path, which takes priority over every other flag, and the
// positional arguments.
func getFromCLI(args []string) (path string, conf Config, rest []string, _ error) {
	conf = Default()

	fs := flag.NewFlagSet("siapay", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to yaml config")
	fs.StringVar(&conf.RPCAddress, "rpc", conf.RPCAddress, "wallet daemon address, example: localhost:9980")
	fs.Uint64Var(&conf.FloorHeight, "floor", conf.FloorHeight, "lowest block height ever scanned")
	fs.DurationVar(&conf.ScanInterval, "scaninterval", conf.ScanInterval, "reconciliation interval")
	fs.BoolVar(&conf.ProcessAll, "processall", conf.ProcessAll, "scan down to the floor on every run")
	fs.BoolVar(&conf.UseWatermark, "watermark", conf.UseWatermark, "resume scans from the last completed height")
	fs.StringVar(&conf.Storage, "storage", conf.Storage, "ledger backend: wal, postgres or sqlite")
	fs.StringVar(&conf.WALDir, "waldir", conf.WALDir, "directory of the wal ledger")
	fs.StringVar(&conf.DatabaseDSN, "dsn", conf.DatabaseDSN, "database dsn for sql backends")
	fs.DurationVar(&conf.ReceivableTTL, "receivablettl", conf.ReceivableTTL, "default receivable lifetime")
	fs.StringVar(&conf.HTTPAddr, "http", conf.HTTPAddr, "http api listen address, empty disables the api")
	fs.StringVar(&conf.HTTPUser, "httpuser", conf.HTTPUser, "http api basic auth user")
	brokers := fs.String("kafka", "", "comma separated kafka brokers")
	fs.StringVar(&conf.KafkaTopic, "kafkatopic", conf.KafkaTopic, "kafka topic for ledger events")

	if err := fs.Parse(args); err != nil {
		return "", Config{}, nil, fmt.Errorf("invalid flags: %w", err)
	}

	conf.Storage = strings.ToLower(conf.Storage)
	for _, b := range strings.Split(*brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			conf.KafkaBrokers = append(conf.KafkaBrokers, b)
		}
	}

	return *configPath, conf, fs.Args(), nil
}
