// Package notifier delivers outbound chat messages through the transport
// adapter. Sends are rate limited, retried with jittered backoff, and never
// retried once the transport reports the recipient unreachable.
//
// SendHTML splits long HTML into transport-sized chunks and keeps inline
// tags balanced across chunk boundaries.
package notifier
