// Package notification sends a short message when an upload reaches a
// terminal status. Delivery goes through shoutrrr so any of its services
// (Slack, Telegram, email, generic webhooks) can be configured by URL.
package notification

import (
	"context"
	"io"
	"log"
	"regexp"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/logger"
)

// defaultSendTimeout bounds one delivery to all configured services.
const defaultSendTimeout = 15 * time.Second

// Message is one rendered notification.
type Message struct {
	Title string
	Body  string
}

// Sender delivers a message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ShoutrrrSender fans a message out to every configured service URL.
type ShoutrrrSender struct {
	router *router.ServiceRouter
}

// NewShoutrrrSender validates urls and builds the sender.
func NewShoutrrrSender(urls []string, timeout time.Duration) (*ShoutrrrSender, error) {
	if len(urls) == 0 {
		return nil, errors.Newf("at least one notification URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}
	sender, err := shoutrrr.CreateSender(slices.Clone(urls)...)
	if err != nil {
		return nil, notifyError(redact(err), "create_sender")
	}
	if timeout <= 0 {
		timeout = defaultSendTimeout
	}
	sender.Timeout = timeout
	sender.SetLogger(log.New(io.Discard, "", 0))
	return &ShoutrrrSender{router: sender}, nil
}

// Send returns the first failure reported by any service.
func (s *ShoutrrrSender) Send(_ context.Context, msg Message) error {
	params := stypes.Params{}
	if msg.Title != "" {
		params.SetTitle(msg.Title)
	}
	for _, err := range s.router.Send(msg.Body, &params) {
		if err != nil {
			return notifyError(redact(err), "send")
		}
	}
	return nil
}

// Service URLs carry tokens in the user info or path.
var urlPattern = regexp.MustCompile(`[a-z][a-z0-9+.-]*://\S+`)

// redact replaces every URL in err's message so tokens do not reach logs.
func redact(err error) error {
	return errors.NewStd(urlPattern.ReplaceAllString(err.Error(), "[URL]"))
}

func notifyError(err error, operation string) error {
	return errors.New(err).
		Component("notification").
		Category(errors.CategoryNotification).
		Context("operation", operation).
		Build()
}

// GetLogger returns the notification module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("notification")
}
