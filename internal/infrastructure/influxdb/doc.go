// Package influxdb records transport activity as InfluxDB time series.
//
// It wraps the official influxdb-client-go v2 library. Client owns the
// connection and its non-blocking batched write API; Observer turns
// transport events into points:
//
//	hublink_deliveries  tags device_id, type, status   fields retries, success, latency_ms
//	hublink_retries     tags device_id, type, kind     fields attempt, backoff_ms
//	hublink_connection  tags device_id, status, reason fields connected, cause
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	obs := influxdb.NewObserver(client, cfg.Device.DeviceID, nil)
//	tr, err := transport.New(conn, transport.Config{Observer: obs})
//
// # Error Handling
//
// Writes never block the caller. Batch failures arrive asynchronously
// through the callback set with SetOnError.
package influxdb
