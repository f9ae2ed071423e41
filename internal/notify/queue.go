package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/emotionsapp/messaging/internal/domain"
)

// TaskTypeNotification is the queue task name for notification delivery.
const TaskTypeNotification = "notify:message"

const notifyQueue = "notify"

// taskPayload is the JSON payload transported via the queue. Kept separate
// from the domain type so queue encoding never leaks into the model.
type taskPayload struct {
	UserID string `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Kind   string `json:"kind"`
	Link   string `json:"link"`
}

// QueueDispatcher enqueues notification tasks on Redis via asynq, keeping
// the send path free of the notification write.
type QueueDispatcher struct {
	client *asynq.Client
}

// NewQueueDispatcher constructs a dispatcher from a Redis URL.
func NewQueueDispatcher(redisURL string) (*QueueDispatcher, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &QueueDispatcher{client: asynq.NewClient(opt)}, nil
}

var _ Dispatcher = (*QueueDispatcher)(nil)

func (d *QueueDispatcher) Dispatch(ctx context.Context, n *domain.Notification) error {
	payload, err := json.Marshal(taskPayload{
		UserID: n.UserID,
		Title:  n.Title,
		Body:   n.Body,
		Kind:   n.Kind,
		Link:   n.Link,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(TaskTypeNotification, payload)
	if _, err := d.client.EnqueueContext(ctx, task,
		asynq.Queue(notifyQueue),
		asynq.MaxRetry(3),
	); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func (d *QueueDispatcher) Close() error {
	return d.client.Close()
}

// Worker consumes notification tasks and persists the records.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

func NewWorker(redisURL string, repo domain.NotificationRepository) (*Worker, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency: 4,
		Queues:      map[string]int{notifyQueue: 1, "default": 1},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeNotification, func(ctx context.Context, t *asynq.Task) error {
		var p taskPayload
		if err := json.Unmarshal(t.Payload(), &p); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return repo.Create(ctx, &domain.Notification{
			UserID: p.UserID,
			Title:  p.Title,
			Body:   p.Body,
			Kind:   p.Kind,
			Link:   p.Link,
		})
	})

	return &Worker{server: srv, mux: mux}, nil
}

// Run starts the worker and blocks until the context is canceled.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	<-ctx.Done()
	w.server.Shutdown()
	return nil
}
