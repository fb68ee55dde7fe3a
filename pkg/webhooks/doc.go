// Package webhooks forwards audit events to an external HTTP receiver.
//
// A Notifier implements audit.Logger. Wrap it in an audit.MultiLogger next
// to the database trail and it POSTs each subscribed event as JSON:
//
//	notifier := webhooks.NewNotifier(webhooks.Config{
//		URL:    "https://siem.example.com/hooks/gatehouse",
//		Secret: secret,
//	}, nil, logger, metrics)
//	trail := audit.NewMultiLogger(dbTrail, notifier)
//
// # Signatures
//
// When a secret is configured every request carries
// X-Gatehouse-Signature: sha256=<hex HMAC of the body>. Receivers check it
// with VerifySignature.
//
// # Delivery
//
// Events are queued and sent in order by one worker. Network errors, 408,
// 429 and 5xx responses are retried with exponential backoff; other 4xx
// responses are not. A full queue drops the event and Log returns
// ErrQueueFull, which audit callers log without failing the operation.
package webhooks
