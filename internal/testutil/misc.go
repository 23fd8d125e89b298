package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/SirClappington/ledgersync/internal/queue"
)

// Message is one captured owner notification.
type Message struct {
	OwnerID int64
	Text    string
	Link    string
}

type FakeNotifier struct {
	mu       sync.Mutex
	messages []Message
}

func NewFakeNotifier() *FakeNotifier { return &FakeNotifier{} }

func (n *FakeNotifier) Send(_ context.Context, ownerID int64, text, link string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, Message{ownerID, text, link})
	return nil
}

func (n *FakeNotifier) Messages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.messages...)
}

// FakeQueue records enqueued tasks; Dequeue pops in FIFO order regardless of
// runAt so tests can drive retries synchronously.
type FakeQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
	RunAt []time.Time
}

func NewFakeQueue() *FakeQueue { return &FakeQueue{} }

func (q *FakeQueue) Enqueue(_ context.Context, t queue.Task, runAt time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
	q.RunAt = append(q.RunAt, runAt)
	return nil
}

func (q *FakeQueue) Dequeue(_ context.Context, _ time.Duration) (*queue.Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, nil
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	q.RunAt = q.RunAt[1:]
	return &t, nil
}

func (q *FakeQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *FakeQueue) Tasks() []queue.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]queue.Task(nil), q.tasks...)
}
