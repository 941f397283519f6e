// Package mail abstracts outbound email delivery. The executor depends only
// on the Sender interface; SMTP wiring lives in the concrete implementation.
package mail

import "context"

// Message is one outbound email, fully resolved: personalization tokens and
// the tracking pixel have already been applied to the HTML body.
type Message struct {
	FromName  string
	FromEmail string
	To        string
	Subject   string
	HTMLBody  string
	ReplyTo   string
}

// Sender delivers a message and returns the provider message ID, used later
// to correlate replies.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}
