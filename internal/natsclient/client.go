// Package natsclient owns the NATS connection, JetStream provisioning and
// the publishers the pipeline uses for digest queueing and change fan-out.
package natsclient

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Connect establishes the NATS connection with reconnect logging. Callers
// should defer Shutdown.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("sanctions-watch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

// Shutdown drains in-flight messages before closing so consumers finish
// cleanly. Close is the fallback when draining fails.
func Shutdown(nc *nats.Conn, logger *zap.Logger) {
	if nc == nil || nc.IsClosed() {
		return
	}
	if err := nc.Drain(); err != nil {
		logger.Warn("nats drain failed, closing hard", zap.Error(err))
		nc.Close()
	}
}
