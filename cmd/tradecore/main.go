// Command tradecore runs the trading core as a standalone process:
// order books, feed normalization, positions, OMS with durable log
// recovery, execution router, algorithm driver, and reconciler, wired
// by fx. Venue adapters and the risk manager are external
// collaborators; a process run from this entrypoint starts with none
// registered and serves as the recovery/reconciliation host, while an
// embedding binary supplies real adapters via app.Collaborators.
package main

import (
	"flag"
	"log"

	"go.uber.org/fx"

	"github.com/shrivenq/tradecore/internal/app"
	"github.com/shrivenq/tradecore/pkg/config"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	fx.New(
		app.Module(cfg, app.Collaborators{}),
	).Run()
}
