package notify

import (
	"testing"
	"time"

	"github.com/ashureev/story-refiner/internal/domain"
)

func TestNotifyAndExpire(t *testing.T) {
	t.Parallel()

	c := NewCenter(time.Second)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	n := c.Notify(domain.NotificationError, "backend unavailable")
	if n.ID == "" {
		t.Fatal("expected notification id")
	}
	if n.Type != domain.NotificationError {
		t.Fatalf("expected type error, got %q", n.Type)
	}

	if got := c.Active(); len(got) != 1 {
		t.Fatalf("expected one active notification, got %d", len(got))
	}

	now = now.Add(2 * time.Second)
	if got := c.Active(); len(got) != 0 {
		t.Fatalf("expected notification to expire, got %d", len(got))
	}
}

func TestLatestSurvivesExpiryUntilPruned(t *testing.T) {
	t.Parallel()

	c := NewCenter(0)
	if _, ok := c.Latest(); ok {
		t.Fatal("expected no notification on a new center")
	}
	c.Notify(domain.NotificationSuccess, "saved")
	latest, ok := c.Latest()
	if !ok || latest.Message != "saved" {
		t.Fatalf("unexpected latest notification: %+v", latest)
	}
}

func TestDismiss(t *testing.T) {
	t.Parallel()

	c := NewCenter(time.Minute)
	a := c.Notify(domain.NotificationInfo, "a")
	c.Notify(domain.NotificationInfo, "b")

	if !c.Dismiss(a.ID) {
		t.Fatal("expected dismiss to find notification")
	}
	if c.Dismiss(a.ID) {
		t.Fatal("expected second dismiss to miss")
	}
	active := c.Active()
	if len(active) != 1 || active[0].Message != "b" {
		t.Fatalf("unexpected active notifications: %+v", active)
	}
}

func TestOnNotifyListener(t *testing.T) {
	t.Parallel()

	c := NewCenter(time.Minute)
	var got []domain.Notification
	c.OnNotify(func(n domain.Notification) { got = append(got, n) })

	c.Notify(domain.NotificationWarning, "careful")
	if len(got) != 1 || got[0].Message != "careful" {
		t.Fatalf("listener not called: %+v", got)
	}
}
