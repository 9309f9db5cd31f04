// Package core contains the relay domain: workflows, users, request mappings,
// the credit ledger, and the orchestration that moves an inbound request from
// entitlement checks through dispatch to settlement. Storage, mail and task
// backend adapters depend on this package; core does not depend on them.
package core
