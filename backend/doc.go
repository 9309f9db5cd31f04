// Package backend is the HTTP client of the task-execution backend. It
// creates tasks, reads task status and credit usage, downloads result
// attachments, and serves the webhook verification key.
package backend
