package client

// MaxNotifications is how many notifications a client keeps.
const MaxNotifications = 50

// NotificationBuffer is a fixed-capacity ring of notifications, newest
// first. Pushing onto a full buffer silently evicts the oldest entry; there
// is no persistence and no way to get evicted entries back.
//
// It is not safe for concurrent use.
type NotificationBuffer struct {
	items []Notification
	head  int // index of the oldest entry
	n     int
}

func NewNotificationBuffer(capacity int) *NotificationBuffer {
	if capacity <= 0 {
		capacity = MaxNotifications
	}
	return &NotificationBuffer{items: make([]Notification, capacity)}
}

func (b *NotificationBuffer) Len() int { return b.n }
func (b *NotificationBuffer) Cap() int { return len(b.items) }

// Push adds n as the newest entry. It reports whether an entry was evicted.
func (b *NotificationBuffer) Push(n Notification) bool {
	if b.n < len(b.items) {
		b.items[(b.head+b.n)%len(b.items)] = n
		b.n++
		return false
	}
	b.items[b.head] = n
	b.head = (b.head + 1) % len(b.items)
	return true
}

// Snapshot returns the entries newest first.
func (b *NotificationBuffer) Snapshot() []Notification {
	out := make([]Notification, b.n)
	for i := 0; i < b.n; i++ {
		out[i] = b.items[(b.head+b.n-1-i)%len(b.items)]
	}
	return out
}

// Remove deletes the entry with id, keeping the order of the rest.
func (b *NotificationBuffer) Remove(id string) bool {
	newest := b.Snapshot()
	idx := -1
	for i, n := range newest {
		if n.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	b.Clear()
	for i := len(newest) - 1; i >= 0; i-- {
		if i != idx {
			b.Push(newest[i])
		}
	}
	return true
}

func (b *NotificationBuffer) Clear() {
	for i := range b.items {
		b.items[i] = Notification{}
	}
	b.head = 0
	b.n = 0
}
