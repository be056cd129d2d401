// Package app wires the ledger, exchange access, bot supervisor and HTTP
// surface into one process.
package app

import (
	"context"
	"sync"

	"github.com/mselser95/botledger/internal/exchange"
	"github.com/mselser95/botledger/internal/ledger"
	"github.com/mselser95/botledger/internal/supervisor"
	"github.com/mselser95/botledger/pkg/cache"
	"github.com/mselser95/botledger/pkg/config"
	"github.com/mselser95/botledger/pkg/healthprobe"
	"github.com/mselser95/botledger/pkg/httpserver"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	store         *ledger.Store
	limitsCache   cache.Cache
	exchange      exchange.Adapter
	supervisor    *supervisor.Supervisor
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	supervisorWG  sync.WaitGroup
}

// Options holds application options.
type Options struct {
	// SkipMigrate leaves the schema untouched at startup.
	SkipMigrate bool
}
