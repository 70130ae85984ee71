// Package notify keeps short-lived, user-visible notifications (toasts).
package notify

import (
	"sync"
	"time"

	"github.com/ashureev/story-refiner/internal/domain"
	"github.com/google/uuid"
)

// DefaultTTL is how long a toast stays visible when no TTL is configured.
const DefaultTTL = 3 * time.Second

// Notifier surfaces transient messages to the user.
type Notifier interface {
	Notify(kind domain.NotificationType, message string) domain.Notification
}

// Center stores recent notifications until they expire.
type Center struct {
	mu     sync.Mutex
	items  []domain.Notification
	ttl    time.Duration
	now    func() time.Time
	listen func(domain.Notification)
}

// NewCenter creates a notification center. A non-positive ttl uses DefaultTTL.
func NewCenter(ttl time.Duration) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Center{ttl: ttl, now: time.Now}
}

// OnNotify registers fn to be called for every new notification.
func (c *Center) OnNotify(fn func(domain.Notification)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listen = fn
}

// Notify records a notification and returns it.
func (c *Center) Notify(kind domain.NotificationType, message string) domain.Notification {
	now := c.now()
	n := domain.Notification{
		ID:        uuid.NewString(),
		Type:      kind,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}

	c.mu.Lock()
	c.items = append(c.pruneLocked(now), n)
	listen := c.listen
	c.mu.Unlock()

	if listen != nil {
		listen(n)
	}
	return n
}

// Active returns notifications that have not yet expired, oldest first.
func (c *Center) Active() []domain.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = c.pruneLocked(c.now())
	return append(make([]domain.Notification, 0, len(c.items)), c.items...)
}

// Latest returns the most recent notification regardless of expiry.
func (c *Center) Latest() (domain.Notification, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.items) == 0 {
		return domain.Notification{}, false
	}
	return c.items[len(c.items)-1], true
}

// Dismiss removes the notification with id. It reports whether one was found.
func (c *Center) Dismiss(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, n := range c.items {
		if n.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Center) pruneLocked(now time.Time) []domain.Notification {
	kept := c.items[:0]
	for _, n := range c.items {
		if !n.Expired(now) {
			kept = append(kept, n)
		}
	}
	return kept
}
