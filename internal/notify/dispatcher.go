package notify

import (
	"context"
	"fmt"

	"github.com/emotionsapp/messaging/internal/domain"
)

// Dispatcher delivers notification records. Callers treat dispatch as
// best-effort: a failed dispatch is logged by the caller, never escalated.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *domain.Notification) error
	Close() error
}

// DirectDispatcher writes notification rows synchronously. It is the
// fallback when no queue backend is configured.
type DirectDispatcher struct {
	repo domain.NotificationRepository
}

func NewDirectDispatcher(repo domain.NotificationRepository) *DirectDispatcher {
	return &DirectDispatcher{repo: repo}
}

var _ Dispatcher = (*DirectDispatcher)(nil)

func (d *DirectDispatcher) Dispatch(ctx context.Context, n *domain.Notification) error {
	if err := d.repo.Create(ctx, n); err != nil {
		return fmt.Errorf("store notification: %w", err)
	}
	return nil
}

func (d *DirectDispatcher) Close() error { return nil }

// Preview trims message content to a short notification excerpt.
func Preview(content string, max int) string {
	runes := []rune(content)
	if len(runes) <= max {
		return content
	}
	return string(runes[:max]) + "…"
}
