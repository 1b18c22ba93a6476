package derive

import "sync"

// notifier fans change signals out to subscribers. Each subscriber channel
// holds at most one pending signal, so bursts coalesce and a slow reader
// never blocks the state owner.
type notifier struct {
	mu   sync.RWMutex
	subs map[<-chan struct{}]chan struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[<-chan struct{}]chan struct{})}
}

func (n *notifier) subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	n.subs[ch] = ch
	n.mu.Unlock()
	return ch
}

func (n *notifier) unsubscribe(ch <-chan struct{}) {
	n.mu.Lock()
	delete(n.subs, ch)
	n.mu.Unlock()
}

func (n *notifier) broadcast() {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ch := range n.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
