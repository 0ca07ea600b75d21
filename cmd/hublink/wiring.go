package main

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/hublink/internal/deviceio"
	"github.com/nerrad567/hublink/internal/infrastructure/config"
	"github.com/nerrad567/hublink/internal/infrastructure/logging"
	"github.com/nerrad567/hublink/internal/message"
	"github.com/nerrad567/hublink/internal/retry"
	"github.com/nerrad567/hublink/internal/transport"
	"github.com/nerrad567/hublink/internal/transport/mqtt"
	"github.com/nerrad567/hublink/internal/transport/reactor"
)

// newClient assembles the connection, coordinator and device client
// described by cfg.
func newClient(cfg *config.Config, observer transport.Observer, log *logging.Logger) (*deviceio.Client, error) {
	clk := clockwork.NewRealClock()

	conn, err := newConnection(cfg, log)
	if err != nil {
		return nil, err
	}

	tr, err := transport.New(conn, transport.Config{
		RetryPolicy:        retryPolicy(cfg.Retry),
		Reconnection:       reconnectPolicy(cfg.Reconnect, clk),
		Clock:              clk,
		Observer:           observer,
		MaxMessagesPerSend: cfg.Transport.MaxMessagesPerSend,
		ConnectTimeout:     cfg.GetConnectTimeout(),
		CloseGrace:         cfg.GetCloseGrace(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}
	tr.SetLogger(log.Component("transport"))

	client, err := deviceio.NewClient(tr, deviceio.Config{
		SendInterval:    cfg.GetSendInterval(),
		ReceiveInterval: cfg.GetReceiveInterval(),
		Clock:           clk,
	})
	if err != nil {
		return nil, fmt.Errorf("creating client: %w", err)
	}
	client.SetLogger(log.Component("client"))
	return client, nil
}

// newConnection selects the connection binding for cfg.Connection.Mode.
func newConnection(cfg *config.Config, log *logging.Logger) (transport.Connection, error) {
	switch cfg.Connection.Mode {
	case "mqtt":
		conn := mqtt.New(cfg.Device, cfg.MQTT)
		conn.SetLogger(log.Component("mqtt"))
		log.Info("using MQTT connection",
			"broker", fmt.Sprintf("%s:%d", cfg.BrokerHost(), cfg.MQTT.Broker.Port),
			"tls", cfg.MQTT.Broker.TLS,
		)
		return conn, nil
	case "loopback":
		link := reactor.NewLink(reactor.LoopbackFactory(message.TypeCloudToDevice), reactor.LinkConfig{})
		link.SetLogger(log.Component("reactor"))
		log.Info("using loopback connection")
		return link, nil
	default:
		return nil, fmt.Errorf("unknown connection mode %q", cfg.Connection.Mode)
	}
}

// retryPolicy builds the message retry policy from cfg.
func retryPolicy(cfg config.RetryConfig) retry.Policy {
	cutoff := retry.Cutoff{
		MaxAttempts: cfg.MaxAttempts,
		MaxElapsed:  time.Duration(cfg.MaxElapsed) * time.Second,
	}
	switch cfg.Policy {
	case "fixed":
		return retry.FixedInterval{
			Interval: time.Duration(cfg.Interval) * time.Millisecond,
			Cutoff:   cutoff,
		}
	case "none":
		return retry.NoRetry{}
	default:
		p := retry.NewExponentialBackoff(cutoff)
		p.MinBackoff = time.Duration(cfg.MinBackoff) * time.Millisecond
		p.MaxBackoff = time.Duration(cfg.MaxBackoff) * time.Millisecond
		p.DeltaBackoff = time.Duration(cfg.DeltaBackoff) * time.Millisecond
		p.FirstFastRetry = cfg.FirstFastRetry
		return p
	}
}

// reconnectPolicy builds the reconnection policy from cfg.
func reconnectPolicy(cfg config.ReconnectConfig, clk clockwork.Clock) retry.ReconnectionPolicy {
	if !cfg.Enabled {
		return retry.NoReconnect{}
	}
	return retry.NewReconnection(retry.ReconnectConfig{
		InitialDelay: time.Duration(cfg.InitialDelay) * time.Second,
		MaxDelay:     time.Duration(cfg.MaxDelay) * time.Second,
		Multiplier:   cfg.Multiplier,
		MaxAttempts:  cfg.MaxAttempts,
		MaxElapsed:   time.Duration(cfg.MaxElapsed) * time.Second,
	}, clk)
}
