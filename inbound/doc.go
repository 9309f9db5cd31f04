// Package inbound normalizes provider inbound-parse posts into relay emails
// and routes them either to dispatch (new requests) or to reconciliation
// (replies from the task backend).
package inbound
