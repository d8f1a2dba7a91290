package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/datastore/entities"
	"github.com/tphakala/voterimport/internal/logger"
)

const defaultQueueSize = 64

// SendRecorder receives delivery outcomes.
type SendRecorder interface {
	RecordSend(seconds float64, err error)
}

var bodyTemplate = template.Must(template.New("upload").Parse(
	`Upload {{.ID}} {{.Status}}
File: {{.FileName}}{{if .Province}} ({{.Province}}{{if .Constituency}} / {{.Constituency}}{{end}}){{end}}
Rows: {{.TotalRecords}}, imported: {{.SuccessCount}}, failed: {{.ErrorCount}}
Chunks: {{.ChunksDone}}/{{.ExpectedChunks}}, failed chunks: {{.ChunksFailed}}
Processing time: {{printf "%.1f" .ProcessingTime}}s{{if .Unresolved}}
Unresolved surnames: {{.Unresolved}}{{end}}`))

type uploadView struct {
	*entities.UploadJob
	Constituency string
	Unresolved   int
}

// FormatUpload renders the completion message for job.
func FormatUpload(job *entities.UploadJob, unresolved int) (Message, error) {
	view := uploadView{UploadJob: job, Unresolved: unresolved}
	if job.Constituency != nil {
		view.Constituency = *job.Constituency
	}
	var b strings.Builder
	if err := bodyTemplate.Execute(&b, view); err != nil {
		return Message{}, err
	}
	return Message{
		Title: fmt.Sprintf("Voter import %s: %s", job.Status, job.FileName),
		Body:  b.String(),
	}, nil
}

// Notifier delivers upload completion messages in the background. A full
// queue drops messages rather than slowing the ledger down.
type Notifier struct {
	sender  Sender
	breaker *CircuitBreaker
	metrics SendRecorder
	log     logger.Logger
	timeout time.Duration

	queue chan Message
	wg    sync.WaitGroup
	once  sync.Once
	stop  chan struct{}
}

// Option configures a Notifier
type Option func(*Notifier)

// WithMetrics sets the delivery recorder
func WithMetrics(m SendRecorder) Option {
	return func(n *Notifier) { n.metrics = m }
}

// WithQueueSize sets the number of pending messages kept.
func WithQueueSize(size int) Option {
	return func(n *Notifier) {
		if size > 0 {
			n.queue = make(chan Message, size)
		}
	}
}

// WithCircuitBreaker replaces the default breaker.
func WithCircuitBreaker(cb *CircuitBreaker) Option {
	return func(n *Notifier) { n.breaker = cb }
}

// NewNotifier starts the delivery goroutine. Call Close to stop it.
func NewNotifier(sender Sender, opts ...Option) *Notifier {
	n := &Notifier{
		sender:  sender,
		breaker: NewCircuitBreaker(DefaultCircuitBreakerConfig()),
		log:     GetLogger(),
		timeout: defaultSendTimeout,
		queue:   make(chan Message, defaultQueueSize),
		stop:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.wg.Go(n.run)
	return n
}

// UploadFinished queues a message for job. Unresolved surnames are counted
// from the job's JSON column.
func (n *Notifier) UploadFinished(ctx context.Context, job *entities.UploadJob) {
	msg, err := FormatUpload(job, countUnresolved(job))
	if err != nil {
		n.log.WithContext(ctx).Error("failed to render notification", logger.Error(err))
		return
	}
	select {
	case <-n.stop:
	case n.queue <- msg:
	default:
		n.log.WithContext(ctx).Warn("notification queue full, dropping message",
			logger.String("upload_id", job.ID))
	}
}

func (n *Notifier) run() {
	for {
		select {
		case <-n.stop:
			n.flush()
			return
		case msg := <-n.queue:
			n.deliver(msg)
		}
	}
}

// flush delivers what is already queued at shutdown.
func (n *Notifier) flush() {
	for {
		select {
		case msg := <-n.queue:
			n.deliver(msg)
		default:
			return
		}
	}
}

func (n *Notifier) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	start := time.Now()
	err := n.breaker.Call(ctx, func(ctx context.Context) error {
		return n.sender.Send(ctx, msg)
	})
	if n.metrics != nil {
		n.metrics.RecordSend(time.Since(start).Seconds(), err)
	}
	if err != nil {
		n.log.Warn("notification not delivered",
			logger.String("title", msg.Title),
			logger.String("circuit", n.breaker.State().String()),
			logger.Error(err))
	}
}

// Close stops accepting messages, delivers the backlog and waits.
func (n *Notifier) Close() {
	n.once.Do(func() { close(n.stop) })
	n.wg.Wait()
}

func countUnresolved(job *entities.UploadJob) int {
	if len(job.UnmappedSurnames) == 0 {
		return 0
	}
	var names []string
	if err := json.Unmarshal(job.UnmappedSurnames, &names); err != nil {
		return 0
	}
	return len(names)
}

// NewFromSettings builds a shoutrrr-backed notifier. It returns nil when
// notifications are disabled.
func NewFromSettings(settings *conf.NotificationSettings, opts ...Option) (*Notifier, error) {
	if settings == nil || !settings.Enabled {
		return nil, nil
	}
	sender, err := NewShoutrrrSender(settings.URLs, defaultSendTimeout)
	if err != nil {
		return nil, err
	}
	return NewNotifier(sender, opts...), nil
}
