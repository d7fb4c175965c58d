package notification

import (
	"context"
	"io"
	"log"
	"log/slog"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/roadsentry/roadsentry-go/internal/conf"
	"github.com/roadsentry/roadsentry-go/internal/errors"
	"github.com/roadsentry/roadsentry-go/internal/logging"
)

// ShoutrrrTransport fans tasks out to additional push destinations through
// shoutrrr service URLs. It is text-only: photo attachments are dropped and
// only the message body travels. One sender covers all configured URLs.
type ShoutrrrTransport struct {
	urls    []string
	sender  *router.ServiceRouter
	timeout time.Duration
	logger  *slog.Logger
}

// NewShoutrrrTransport validates the configured URLs and builds the sender.
func NewShoutrrrTransport(settings *conf.ShoutrrrSettings) (*ShoutrrrTransport, error) {
	if len(settings.URLs) == 0 {
		return nil, errors.Newf("at least one shoutrrr URL is required").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	sender, err := shoutrrr.CreateSender(settings.URLs...)
	if err != nil {
		return nil, errors.New(err).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("operation", "create_shoutrrr_sender").
			Build()
	}
	if settings.Timeout > 0 {
		sender.Timeout = settings.Timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))

	return &ShoutrrrTransport{
		urls:    slices.Clone(settings.URLs),
		sender:  sender,
		timeout: settings.Timeout,
		logger:  logging.ForService("shoutrrr"),
	}, nil
}

func (s *ShoutrrrTransport) Name() string { return "shoutrrr" }

// Send pushes the task text to every configured URL. The router handles its
// own timeouts.
func (s *ShoutrrrTransport) Send(ctx context.Context, task *Task) error {
	_ = ctx

	params := stypes.Params{}
	if task.Title != "" {
		params.SetTitle(task.Title)
	}

	errs := s.sender.Send(task.Message, &params)
	for _, err := range errs {
		if err != nil {
			return errors.New(err).
				Component("notification").
				Category(errors.CategoryDelivery).
				Context("operation", "shoutrrr_send").
				Context("task_id", task.ID).
				Build()
		}
	}
	s.logger.Debug("shoutrrr message delivered", "task_id", task.ID, "urls", len(s.urls))
	return nil
}
