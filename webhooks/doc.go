// Package webhooks verifies and processes task backend completion callbacks.
//
// The verifier checks an RSA PKCS#1 v1.5 SHA-256 signature over
// "<timestamp>.<url>.<hex sha256(body)>" using a lazily refreshed public key.
//
// Delivery processing is driven by a claim lifecycle keyed by event id:
// pending/retry_ready -> processing -> processed|dead.
// A failed attempt is left claimable so the provider's redelivery retries it.
package webhooks
