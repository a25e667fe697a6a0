package service

import (
	eventdomain "github.com/reachforge/reachforge/internal/event/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("event",
	fx.Provide(
		NewService,
		func(s *Service) eventdomain.Ingestor { return s },
	),
)
