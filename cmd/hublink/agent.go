package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/nerrad567/hublink/internal/infrastructure/config"
	"github.com/nerrad567/hublink/internal/infrastructure/logging"
	"github.com/nerrad567/hublink/internal/message"
	"github.com/nerrad567/hublink/internal/transport"
)

// sender is the part of *deviceio.Client the agent uses.
type sender interface {
	AddMessage(msg *message.Message, cb message.EventCallback, callbackCtx any) error
	RegisterMessageCallback(typ message.Type, cb message.Callback, callbackCtx any) error
	RegisterConnectionStatusChangeCallback(cb transport.StatusCallback, callbackCtx any)
}

// heartbeat is the telemetry payload sent on every tick.
type heartbeat struct {
	Seq     uint64 `json:"seq"`
	Uptime  int64  `json:"uptime_s"`
	Version string `json:"version"`
}

// methodReply is the payload answering a direct method call.
type methodReply struct {
	Method string `json:"method"`
	Uptime int64  `json:"uptime_s"`
}

// agent sends heartbeat telemetry and answers inbound traffic.
type agent struct {
	client   sender
	log      *logging.Logger
	interval time.Duration
	ttl      time.Duration
	started  time.Time

	seq       atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

func newAgent(client sender, cfg *config.Config, log *logging.Logger) *agent {
	a := &agent{
		client:  client,
		log:     log.Component("agent"),
		ttl:     cfg.GetMessageTTL(),
		started: time.Now(),
	}
	if cfg.Telemetry.Enabled {
		a.interval = cfg.GetTelemetryInterval()
	}
	return a
}

// register installs the status and message callbacks.
func (a *agent) register() error {
	a.client.RegisterConnectionStatusChangeCallback(a.onStatus, nil)

	if err := a.client.RegisterMessageCallback(message.TypeCloudToDevice, a.onCloudToDevice, nil); err != nil {
		return fmt.Errorf("registering cloud-to-device callback: %w", err)
	}
	if err := a.client.RegisterMessageCallback(message.TypeMethodRequest, a.onMethod, nil); err != nil {
		return fmt.Errorf("registering method callback: %w", err)
	}
	if err := a.client.RegisterMessageCallback(message.TypeTwinDesired, a.onDesired, nil); err != nil {
		return fmt.Errorf("registering twin callback: %w", err)
	}
	return nil
}

// run sends heartbeats until either context ends. A zero interval only
// waits.
func (a *agent) run(ctx, services context.Context) {
	if a.interval <= 0 {
		select {
		case <-ctx.Done():
		case <-services.Done():
		}
		return
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	a.sendHeartbeat()
	for {
		select {
		case <-ctx.Done():
			return
		case <-services.Done():
			return
		case <-ticker.C:
			a.sendHeartbeat()
		}
	}
}

func (a *agent) sendHeartbeat() {
	seq := a.seq.Add(1)
	payload, err := json.Marshal(heartbeat{
		Seq:     seq,
		Uptime:  int64(time.Since(a.started).Seconds()),
		Version: version,
	})
	if err != nil {
		a.log.Error("encoding heartbeat", "error", err)
		return
	}

	msg := message.New(payload)
	msg.ContentType = "application/json"
	msg.ContentEncoding = "utf-8"
	msg.SetExpiry(time.Now(), a.ttl)

	if err := a.client.AddMessage(msg, a.onDelivered, seq); err != nil {
		a.log.Warn("queueing heartbeat", "seq", seq, "error", err)
	}
}

func (a *agent) onDelivered(status message.Status, callbackCtx any) {
	if status == message.StatusOK {
		a.delivered.Add(1)
		a.log.Debug("heartbeat delivered", "seq", callbackCtx)
		return
	}
	a.failed.Add(1)
	a.log.Warn("heartbeat not delivered", "seq", callbackCtx, "status", status.String())
}

func (a *agent) onStatus(status transport.ConnectionStatus, reason transport.ChangeReason, cause error, _ any) {
	args := []any{"status", status.String(), "reason", reason.String()}
	if cause != nil {
		args = append(args, "error", cause)
	}
	if status == transport.Connected {
		a.log.Info("connection status changed", args...)
		return
	}
	a.log.Warn("connection status changed", args...)
}

func (a *agent) onCloudToDevice(msg *message.Message, _ any) message.Result {
	a.log.Info("cloud-to-device message",
		"message_id", msg.ID,
		"correlation_id", msg.CorrelationID,
		"bytes", len(msg.Payload),
		"properties", msg.Properties(),
	)
	return message.Complete
}

func (a *agent) onMethod(msg *message.Message, _ any) message.Result {
	a.log.Info("direct method call", "method", msg.MethodName, "request_id", msg.CorrelationID)

	payload, err := json.Marshal(methodReply{
		Method: msg.MethodName,
		Uptime: int64(time.Since(a.started).Seconds()),
	})
	if err != nil {
		a.log.Error("encoding method reply", "error", err)
		return message.Reject
	}

	reply := message.NewWithType(message.TypeMethodResponse, payload)
	reply.CorrelationID = msg.CorrelationID
	reply.ResponseStatus = 200
	reply.ContentType = "application/json"
	if err := a.client.AddMessage(reply, nil, nil); err != nil {
		a.log.Warn("queueing method reply", "request_id", msg.CorrelationID, "error", err)
		return message.Abandon
	}
	return message.Complete
}

func (a *agent) onDesired(msg *message.Message, _ any) message.Result {
	a.log.Info("desired properties updated", "bytes", len(msg.Payload))
	return message.Complete
}
