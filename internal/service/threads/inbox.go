package threads

import (
	"sync"

	"resv_relay/internal/model"
)

// Inbox accumulates delivered messages and keeps the assembled threads current. It is
// the single writer of the message list; readers get snapshots.
type Inbox struct {
	localPubKey string

	mu       sync.RWMutex
	messages []*model.Message
	index    map[string]struct{}
	threads  []*model.ConversationThread
	byRoot   map[string]*model.ConversationThread

	subsMu sync.Mutex
	subs   []chan struct{}
}

func NewInbox(localPubKey string) *Inbox {
	return &Inbox{
		localPubKey: localPubKey,
		index:       make(map[string]struct{}),
		byRoot:      make(map[string]*model.ConversationThread),
	}
}

// Add appends messages not seen before and rebuilds the threads once for the batch.
// It returns how many were new.
func (in *Inbox) Add(msgs ...*model.Message) int {
	in.mu.Lock()
	added := 0
	for _, m := range msgs {
		id := m.ID()
		if id == "" {
			continue
		}
		if _, ok := in.index[id]; ok {
			continue
		}
		in.index[id] = struct{}{}
		in.messages = append(in.messages, m)
		added++
	}
	if added > 0 {
		in.rebuild()
	}
	in.mu.Unlock()

	if added > 0 {
		in.notify()
	}
	return added
}

func (in *Inbox) rebuild() {
	in.threads = Assemble(in.messages, in.localPubKey)
	in.byRoot = make(map[string]*model.ConversationThread, len(in.threads))
	for _, t := range in.threads {
		in.byRoot[t.RootID] = t
	}
}

// Threads returns the current threads, most recently active first.
func (in *Inbox) Threads() []*model.ConversationThread {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return append([]*model.ConversationThread(nil), in.threads...)
}

func (in *Inbox) Thread(rootID string) (*model.ConversationThread, bool) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	t, ok := in.byRoot[rootID]
	return t, ok
}

func (in *Inbox) Messages() []*model.Message {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return append([]*model.Message(nil), in.messages...)
}

func (in *Inbox) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.messages)
}

// Updates returns a channel that receives a value after every batch that changed the
// inbox. Notifications are coalesced; a slow reader only misses intermediate ones.
func (in *Inbox) Updates() <-chan struct{} {
	ch := make(chan struct{}, 1)
	in.subsMu.Lock()
	in.subs = append(in.subs, ch)
	in.subsMu.Unlock()
	return ch
}

func (in *Inbox) notify() {
	in.subsMu.Lock()
	defer in.subsMu.Unlock()
	for _, ch := range in.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
