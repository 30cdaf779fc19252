package notify

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Notification is an entry in an owner's browser inbox.
type Notification struct {
	Ref        string    `json:"ref"`
	OwnerID    string    `json:"ownerId"`
	ReminderID string    `json:"reminderId"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	DueAt      time.Time `json:"dueAt"`
	Due        string    `json:"due"`
	DeliverAt  time.Time `json:"deliverAt"`
}

// Inbox stores browser notifications until the owner's browser polls.
type Inbox interface {
	Push(ctx context.Context, n Notification) error
	// Remove drops a queued notification. It reports false when the ref
	// was already delivered or never existed.
	Remove(ctx context.Context, ref string) (bool, error)
	// Due returns and removes the owner's notifications with
	// DeliverAt <= now, oldest first.
	Due(ctx context.Context, ownerID string, now time.Time) ([]Notification, error)
}

// BrowserSender queues notifications for in-browser display. The server
// owns the schedule; browsers only poll.
type BrowserSender struct {
	inbox   Inbox
	format  Formatter
	timeout time.Duration
	now     func() time.Time
}

func NewBrowserSender(inbox Inbox, format Formatter, timeout time.Duration) *BrowserSender {
	return &BrowserSender{inbox: inbox, format: format, timeout: timeout, now: time.Now}
}

func (b *BrowserSender) Channel() string { return ChannelBrowser }

func (b *BrowserSender) Send(ctx context.Context, ownerID string, msg Message) (Receipt, error) {
	ref, err := b.push(ctx, ownerID, msg, b.now())
	if err != nil {
		return Receipt{}, err
	}
	return Receipt{Channel: ChannelBrowser, Ref: ref, Status: "queued"}, nil
}

func (b *BrowserSender) ScheduleAt(ctx context.Context, ownerID string, msg Message, when time.Time) (string, error) {
	return b.push(ctx, ownerID, msg, when)
}

// Cancel is idempotent: cancelling a delivered notification is not an error.
func (b *BrowserSender) Cancel(ctx context.Context, ref string) error {
	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()

	if _, err := b.inbox.Remove(ctx, ref); err != nil {
		return transient(fmt.Errorf("browser inbox remove: %w", err))
	}
	return nil
}

// Pull returns the owner's deliverable notifications.
func (b *BrowserSender) Pull(ctx context.Context, ownerID string) ([]Notification, error) {
	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()

	ns, err := b.inbox.Due(ctx, ownerID, b.now())
	if err != nil {
		return nil, transient(fmt.Errorf("browser inbox poll: %w", err))
	}
	return ns, nil
}

func (b *BrowserSender) push(ctx context.Context, ownerID string, msg Message, at time.Time) (string, error) {
	if ownerID == "" {
		return "", rejected("browser notification needs an owner")
	}

	ctx, cancel := withTimeout(ctx, b.timeout)
	defer cancel()

	n := Notification{
		Ref:        uuid.NewString(),
		OwnerID:    ownerID,
		ReminderID: msg.ReminderID,
		Title:      msg.Title,
		Body:       msg.Body,
		DueAt:      msg.DueAt.UTC(),
		Due:        b.format.Due(msg.DueAt),
		DeliverAt:  at.UTC(),
	}
	if err := b.inbox.Push(ctx, n); err != nil {
		return "", transient(fmt.Errorf("browser inbox push: %w", err))
	}
	return n.Ref, nil
}

// MemoryInbox keeps notifications in process memory. Contents are lost
// on restart.
type MemoryInbox struct {
	mu     sync.Mutex
	queues map[string][]Notification
	owners map[string]string
}

func NewMemoryInbox() *MemoryInbox {
	return &MemoryInbox{
		queues: make(map[string][]Notification),
		owners: make(map[string]string),
	}
}

func (m *MemoryInbox) Push(_ context.Context, n Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := append(m.queues[n.OwnerID], n)
	sort.SliceStable(q, func(i, j int) bool { return q[i].DeliverAt.Before(q[j].DeliverAt) })
	m.queues[n.OwnerID] = q
	m.owners[n.Ref] = n.OwnerID
	return nil
}

func (m *MemoryInbox) Remove(_ context.Context, ref string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	owner, ok := m.owners[ref]
	if !ok {
		return false, nil
	}
	delete(m.owners, ref)

	q := m.queues[owner]
	for i, n := range q {
		if n.Ref == ref {
			m.queues[owner] = append(q[:i:i], q[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryInbox) Due(_ context.Context, ownerID string, now time.Time) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[ownerID]
	i := 0
	for i < len(q) && !q[i].DeliverAt.After(now) {
		delete(m.owners, q[i].Ref)
		i++
	}
	if i == 0 {
		return nil, nil
	}

	due := append([]Notification(nil), q[:i]...)
	m.queues[ownerID] = append([]Notification(nil), q[i:]...)
	return due, nil
}

// Len returns the number of queued notifications for an owner.
func (m *MemoryInbox) Len(ownerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[ownerID])
}
