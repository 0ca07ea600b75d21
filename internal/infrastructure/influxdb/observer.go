package influxdb

import (
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/jonboulle/clockwork"

	"github.com/nerrad567/hublink/internal/message"
	"github.com/nerrad567/hublink/internal/transport"
)

// Measurement names.
const (
	MeasurementDeliveries = "hublink_deliveries"
	MeasurementRetries    = "hublink_retries"
	MeasurementConnection = "hublink_connection"
)

// PointWriter accepts points for asynchronous writing. *Client and
// api.WriteAPI satisfy it.
type PointWriter interface {
	WritePoint(p *write.Point)
}

// Observer is a transport.Observer that writes one point per delivery,
// retry and connection change.
type Observer struct {
	w        PointWriter
	deviceID string
	clock    clockwork.Clock

	mu     sync.Mutex
	queued map[string]time.Time
}

var _ transport.Observer = (*Observer)(nil)

// NewObserver creates an observer tagging points with deviceID. A nil clk
// uses the wall clock.
func NewObserver(w PointWriter, deviceID string, clk clockwork.Clock) *Observer {
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	return &Observer{
		w:        w,
		deviceID: deviceID,
		clock:    clk,
		queued:   make(map[string]time.Time),
	}
}

// MessageQueued remembers when msg was queued to compute its latency.
func (o *Observer) MessageQueued(msg *message.Message) {
	o.mu.Lock()
	o.queued[msg.ID] = o.clock.Now()
	o.mu.Unlock()
}

// MessageRetried implements transport.Observer.
func (o *Observer) MessageRetried(msg *message.Message, attempt int, after time.Duration, cause error) {
	o.w.WritePoint(write.NewPoint(MeasurementRetries,
		map[string]string{
			"device_id": o.deviceID,
			"type":      msg.Type.String(),
			"kind":      transport.KindOf(cause).String(),
		},
		map[string]interface{}{
			"attempt":    attempt,
			"backoff_ms": float64(after) / float64(time.Millisecond),
		},
		o.clock.Now(),
	))
}

// MessageCompleted implements transport.Observer.
func (o *Observer) MessageCompleted(msg *message.Message, status message.Status, retries int) {
	now := o.clock.Now()
	o.mu.Lock()
	queuedAt, ok := o.queued[msg.ID]
	delete(o.queued, msg.ID)
	o.mu.Unlock()

	fields := map[string]interface{}{
		"retries": retries,
		"success": status.Success(),
	}
	if ok {
		fields["latency_ms"] = float64(now.Sub(queuedAt)) / float64(time.Millisecond)
	}

	o.w.WritePoint(write.NewPoint(MeasurementDeliveries,
		map[string]string{
			"device_id": o.deviceID,
			"type":      msg.Type.String(),
			"status":    status.String(),
		},
		fields,
		now,
	))
}

// StatusChanged implements transport.Observer.
func (o *Observer) StatusChanged(status transport.ConnectionStatus, reason transport.ChangeReason, cause error) {
	fields := map[string]interface{}{
		"connected": status == transport.Connected,
	}
	if cause != nil {
		fields["cause"] = cause.Error()
	}
	o.w.WritePoint(write.NewPoint(MeasurementConnection,
		map[string]string{
			"device_id": o.deviceID,
			"status":    status.String(),
			"reason":    reason.String(),
		},
		fields,
		o.clock.Now(),
	))
}
