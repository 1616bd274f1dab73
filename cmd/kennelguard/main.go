// Command kennelguard serves the authentication API of the adoption
// platform: login, refresh, password change and reset, and the protected
// routes that exercise the guards and the API key gate.
//
// Configuration is read from an optional YAML file (-config, or
// KENNELGUARD_CONFIG) and KENNELGUARD_* environment variables.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/MrEthical07/kennelguard"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv("KENNELGUARD_CONFIG"), "path to a YAML config file")
	flag.Parse()

	s, err := loadSettings(*configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kennelguard: %v\n", err)
		os.Exit(2)
	}

	log, err := newLogger(s.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kennelguard: logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	rt, err := newRuntime(ctx, s, log)
	if err != nil {
		log.Fatal("bootstrap failed", zap.Error(err))
	}
	if err := rt.run(ctx); err != nil {
		log.Fatal("run failed", zap.Error(err))
	}
}

func newLogger(environment string) (*zap.Logger, error) {
	if environment == kennelguard.EnvDevelopment {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
