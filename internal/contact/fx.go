package contact

import (
	"github.com/casaops/rentledger/internal/contact/repository"
	"github.com/casaops/rentledger/internal/contact/service"
	"go.uber.org/fx"
)

var Module = fx.Module("contact.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
