package main

import (
	"context"

	"github.com/elee1766/p2prelay/src/report"
	"github.com/elee1766/p2prelay/src/server"
)

// ServeCmd runs the HTTP relay until interrupted
type ServeCmd struct {
	Addr string `help:"Listen address; overrides the config"`
}

// Run executes the serve command
func (c *ServeCmd) Run(ctx context.Context, cli *CLI) error {
	a, err := newApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	addr := a.cfg.Server.Addr
	if c.Addr != "" {
		addr = c.Addr
	}

	srv := server.New(server.Config{
		Version:   version,
		Relay:     a.relay,
		Dialog:    a.dialog,
		Safeguard: a.guard,
		Executor:  a.executor,
		Host:      report.ProbeHost,
		Logger:    a.logger,
	})

	a.logger.Info("starting relay",
		"local_id", a.cfg.Peer.LocalID,
		"remote", a.cfg.Peer.RemoteURL,
		"store", a.cfg.Storage.Backend,
		"tracker", a.cfg.Tracker.Backend)

	return srv.ListenAndServe(ctx, server.HTTPConfig{
		Addr:            addr,
		ReadTimeout:     a.cfg.Server.ReadTimeout.Std(),
		WriteTimeout:    a.cfg.Server.WriteTimeout.Std(),
		IdleTimeout:     a.cfg.Server.IdleTimeout.Std(),
		ShutdownTimeout: a.cfg.Server.ShutdownTimeout.Std(),
	})
}
