package server

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	applogger "SnipeRadar/pkg/logger"
)

// Component is one long-running part of the application.
type Component struct {
	Name  string
	Start func(ctx context.Context) error
	Stop  func(ctx context.Context) error
}

// App starts components in order and stops them in reverse.
type App struct {
	log             *applogger.Logger
	components      []Component
	shutdownTimeout time.Duration
}

func New(log *applogger.Logger, shutdownTimeout time.Duration, components ...Component) *App {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &App{
		log:             log.With(applogger.String("component", "app")),
		components:      components,
		shutdownTimeout: shutdownTimeout,
	}
}

// Run starts every component and blocks until ctx is done or the process
// receives SIGINT/SIGTERM. If a component fails to start, the ones already
// running are stopped and the start error is returned.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	started, err := a.start(ctx)
	if err != nil {
		a.shutdown(started)
		return err
	}

	<-ctx.Done()
	a.log.Info("shutdown signal received")
	return a.shutdown(started)
}

func (a *App) start(ctx context.Context) (int, error) {
	for i, c := range a.components {
		if c.Start == nil {
			continue
		}
		if err := c.Start(ctx); err != nil {
			a.log.Error("component failed to start", applogger.String("name", c.Name), applogger.Error(err))
			return i, fmt.Errorf("start %s: %w", c.Name, err)
		}
		a.log.Info("component started", applogger.String("name", c.Name))
	}
	return len(a.components), nil
}

// shutdown stops the first n components in reverse order under one deadline.
func (a *App) shutdown(n int) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	var errs []error
	for i := n - 1; i >= 0; i-- {
		c := a.components[i]
		if c.Stop == nil {
			continue
		}
		if err := c.Stop(ctx); err != nil {
			a.log.Warn("component stop error", applogger.String("name", c.Name), applogger.Error(err))
			errs = append(errs, fmt.Errorf("stop %s: %w", c.Name, err))
			continue
		}
		a.log.Info("component stopped", applogger.String("name", c.Name))
	}
	a.log.Info("shutdown complete")
	return errors.Join(errs...)
}
