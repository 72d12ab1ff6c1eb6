// Package notify fans user-visible notices out to whatever surface renders
// them. It is the client's stand-in for the web app's transient toasts.
package notify

import "sync"

type Level int

const (
	LevelInfo Level = iota
	LevelError
)

type Notice struct {
	Level Level
	Text  string
}

// Notifier delivers notices to all current subscribers. Publishing never
// blocks: a subscriber that has fallen behind misses notices rather than
// stalling the caller.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Notice
	nextID int
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Notice)}
}

// Subscribe returns a channel of notices and a function that tears the
// subscription down. The channel is closed on unsubscribe.
func (n *Notifier) Subscribe() (<-chan Notice, func()) {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	ch := make(chan Notice, 16)
	n.subs[id] = ch
	n.mu.Unlock()

	unsubscribe := func() {
		n.mu.Lock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
		n.mu.Unlock()
	}
	return ch, unsubscribe
}

func (n *Notifier) Publish(level Level, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- Notice{Level: level, Text: text}:
		default:
		}
	}
}

func (n *Notifier) Info(text string)  { n.Publish(LevelInfo, text) }
func (n *Notifier) Error(text string) { n.Publish(LevelError, text) }
