package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/casaops/rentledger/internal/clock"
	"github.com/casaops/rentledger/internal/config"
	"github.com/casaops/rentledger/internal/logger"
	"github.com/casaops/rentledger/internal/migration"
	"github.com/casaops/rentledger/internal/server"
	"github.com/casaops/rentledger/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		logger.Module,
		config.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// HTTP surface plus every functional domain it serves
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
