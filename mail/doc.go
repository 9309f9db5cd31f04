// Package mail delivers outbound relay email through SendGrid.
package mail
