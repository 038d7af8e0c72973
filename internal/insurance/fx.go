package insurance

import (
	"github.com/casaops/rentledger/internal/insurance/service"
	"go.uber.org/fx"
)

var Module = fx.Module("insurance.service",
	fx.Provide(service.New),
)
