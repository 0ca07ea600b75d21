// Package metrics exposes transport activity as Prometheus metrics.
//
// A Collector is a transport.Observer: register it with the transport and
// every queued, retried and completed message and every connection status
// change is counted. Handler serves the Collector's registry over HTTP.
//
// Exported series:
//
//	hublink_messages_queued_total{type}
//	hublink_messages_completed_total{type,status}
//	hublink_messages_pending
//	hublink_message_retries_total{type,kind}
//	hublink_retry_backoff_seconds
//	hublink_message_attempts
//	hublink_connection_status{status}
//	hublink_connection_changes_total{status,reason}
package metrics
