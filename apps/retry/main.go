package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/reachforge/reachforge/internal/clock"
	"github.com/reachforge/reachforge/internal/config"
	eventservice "github.com/reachforge/reachforge/internal/event/service"
	"github.com/reachforge/reachforge/internal/logger"
	"github.com/reachforge/reachforge/internal/migration"
	"github.com/reachforge/reachforge/internal/observability"
	orphanservice "github.com/reachforge/reachforge/internal/orphan/service"
	"github.com/reachforge/reachforge/pkg/db"
	"go.uber.org/fx"
)

// Dedicated retry-processor binary for deployments that split the webhook
// surface from the background drain.
func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		eventservice.Module,
		orphanservice.Module,

		// No server module.
		fx.Invoke(StartRetryProcessor),
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

func StartRetryProcessor(lc fx.Lifecycle, w *orphanservice.Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go w.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
