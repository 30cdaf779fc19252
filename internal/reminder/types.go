package reminder

import (
	"time"
)

// Status is the lifecycle state of a reminder.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusMissed    Status = "missed"
)

// Valid reports whether s is one of the three lifecycle states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusMissed:
		return true
	}
	return false
}

// Channel selects how a reminder notifies its owner.
type Channel string

const (
	ChannelNone    Channel = "none"
	ChannelSMS     Channel = "sms"
	ChannelEmail   Channel = "email"
	ChannelBoth    Channel = "both"
	ChannelBrowser Channel = "browser"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelNone, ChannelSMS, ChannelEmail, ChannelBoth, ChannelBrowser:
		return true
	}
	return false
}

// IncludesSMS reports whether c delivers by SMS.
func (c Channel) IncludesSMS() bool { return c == ChannelSMS || c == ChannelBoth }

// IncludesEmail reports whether c delivers by email.
func (c Channel) IncludesEmail() bool { return c == ChannelEmail || c == ChannelBoth }

// IncludesBrowser reports whether c delivers to the browser inbox.
func (c Channel) IncludesBrowser() bool { return c == ChannelBrowser }

// Reminder is a note with a due time and a delivery channel.
type Reminder struct {
	ID               string     `json:"id"`
	OwnerID          string     `json:"ownerId"`
	Title            string     `json:"title"`
	Body             string     `json:"body"`
	DueAt            time.Time  `json:"dueAt"`
	Status           Status     `json:"status"`
	StatusAutomated  bool       `json:"statusAutomated"`
	StatusChangedAt  *time.Time `json:"statusChangedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	Channel          Channel    `json:"channel"`
	PhoneNumber      string     `json:"phoneNumber,omitempty"`
	EmailAddress     string     `json:"emailAddress,omitempty"`
	NotificationSent bool       `json:"notificationSent"`
	DispatchHandle   string     `json:"dispatchHandle,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// Overdue reports whether a pending reminder is already past due.
func (r *Reminder) Overdue(now time.Time) bool {
	return r.Status == StatusPending && r.DueAt.Before(now)
}

// InitialStatus is the status a reminder starts in (or returns to after
// its due time is edited): missed when already past due, else pending.
func InitialStatus(dueAt, now time.Time) Status {
	if dueAt.Before(now) {
		return StatusMissed
	}
	return StatusPending
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	OwnerID   string
	Status    Status
	Automated *bool
	Search    string // case-insensitive match on title or body
}

// StatusChange is the write applied by UpdateStatus.
type StatusChange struct {
	Status      Status
	Automated   bool
	ChangedAt   time.Time
	CompletedAt *time.Time
}

// UpdateFields holds optional fields for a partial update.
type UpdateFields struct {
	Title            *string
	Body             *string
	DueAt            *time.Time
	Channel          *Channel
	PhoneNumber      *string
	EmailAddress     *string
	Status           *Status
	StatusChangedAt  *time.Time
	ClearCompletedAt bool
	NotificationSent *bool
}
