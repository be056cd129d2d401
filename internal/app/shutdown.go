package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application. Running bots are
// detached, not stopped, so the next process resumes them.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetNotReady("shutting down")

	// the supervisor detaches its runners once the context ends
	a.cancel()
	a.supervisorWG.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	var errs []error

	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
		errs = append(errs, err)
	}

	a.wg.Wait()

	a.limitsCache.Close()

	err = a.store.Close()
	if err != nil {
		a.logger.Error("ledger-close-error", zap.Error(err))
		errs = append(errs, fmt.Errorf("close ledger: %w", err))
	}

	a.logger.Info("application-shutdown-complete")

	return errors.Join(errs...)
}
