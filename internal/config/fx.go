package config

import "go.uber.org/fx"

// Module wires application configuration.
var Module = fx.Module("config",
	fx.Provide(
		Load,
		func(cfg Config) IngestConfig { return cfg.Ingest },
		func(cfg Config) OrphanConfig { return cfg.Orphan },
	),
)
