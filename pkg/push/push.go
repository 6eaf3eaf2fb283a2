// Package push sends best-effort notifications to devices whose user had no
// live connection at delivery time. APNs devices are reached through FCM, so a
// single provider covers all platforms.
package push

import "context"

// Notification is a platform-neutral push payload
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// Provider delivers a notification to a set of device tokens
type Provider interface {
	Send(ctx context.Context, tokens []string, notification *Notification) error
}

// NopProvider discards notifications; used when push is not configured
type NopProvider struct{}

// Send implements Provider
func (NopProvider) Send(context.Context, []string, *Notification) error { return nil }
