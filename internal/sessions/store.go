package sessions

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/quantumauth-io/quantum-go-utils/log"
	"github.com/quantumauth-io/wc-bridge/internal/constants"
	"github.com/quantumauth-io/wc-bridge/internal/kvstore"
)

// ConnectedApp is one approved session. Name, URL and Icon come from the dApp and are display-only.
type ConnectedApp struct {
	ID          string    `json:"id"`
	Topic       string    `json:"topic"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	Icon        string    `json:"icon,omitempty"`
	ChainID     uint64    `json:"chainId"`
	Accounts    []string  `json:"accounts"`
	ConnectedAt time.Time `json:"connectedAt"`
}

type storeFile struct {
	Schema int            `json:"schema"`
	Apps   []ConnectedApp `json:"apps"`
}

// Store is the durable topic -> ConnectedApp mapping. Every mutating call is
// written through to the backing kvstore before it returns.
type Store struct {
	mu   sync.Mutex
	kv   kvstore.Store
	apps []ConnectedApp
}

func NewStore(kv kvstore.Store) (*Store, error) {
	if kv == nil {
		return nil, errors.New("sessions: nil kvstore")
	}

	s := &Store{kv: kv}

	var f storeFile
	ok, err := kv.Get(constants.ConnectedAppsKey, &f)
	if err != nil {
		// a corrupt file must not brick startup; the next write replaces it
		log.Warn("sessions: discarding unreadable connected apps", "error", err)
		ok = false
	}
	if ok {
		s.apps = dedupeByTopic(f.Apps)
	}
	return s, nil
}

func (s *Store) List() []ConnectedApp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneApps(s.apps)
}

func (s *Store) Get(topic string) (ConnectedApp, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.apps {
		if a.Topic == topic {
			return cloneApp(a), true
		}
	}
	return ConnectedApp{}, false
}

// Add upserts app by topic.
func (s *Store) Add(app ConnectedApp) error {
	app.Topic = strings.TrimSpace(app.Topic)
	if app.Topic == "" {
		return errors.New("sessions: empty topic")
	}
	if app.ID == "" {
		app.ID = app.Topic
	}
	if app.ConnectedAt.IsZero() {
		app.ConnectedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]ConnectedApp, 0, len(s.apps)+1)
	for _, a := range s.apps {
		if a.Topic != app.Topic {
			next = append(next, a)
		}
	}
	next = append(next, cloneApp(app))
	return s.commit(next)
}

func (s *Store) Remove(topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]ConnectedApp, 0, len(s.apps))
	for _, a := range s.apps {
		if a.Topic != topic {
			next = append(next, a)
		}
	}
	if len(next) == len(s.apps) {
		return nil
	}
	return s.commit(next)
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commit(nil)
}

// Reconcile drops every record whose topic is not in liveTopics and returns the dropped topics.
func (s *Store) Reconcile(liveTopics map[string]struct{}) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped []string
	next := make([]ConnectedApp, 0, len(s.apps))
	for _, a := range s.apps {
		if _, ok := liveTopics[a.Topic]; ok {
			next = append(next, a)
			continue
		}
		dropped = append(dropped, a.Topic)
	}
	if len(dropped) == 0 {
		return nil, nil
	}
	if err := s.commit(next); err != nil {
		return nil, err
	}
	return dropped, nil
}

// commit persists next and only then swaps it in, so memory never runs ahead of disk.
func (s *Store) commit(next []ConnectedApp) error {
	if next == nil {
		next = []ConnectedApp{}
	}
	sort.SliceStable(next, func(i, j int) bool {
		return next[i].ConnectedAt.Before(next[j].ConnectedAt)
	})
	if err := s.kv.Put(constants.ConnectedAppsKey, storeFile{Schema: constants.SchemaV1, Apps: next}); err != nil {
		return errors.Wrap(err, "persist connected apps")
	}
	s.apps = next
	return nil
}

func dedupeByTopic(in []ConnectedApp) []ConnectedApp {
	seen := make(map[string]int, len(in))
	out := make([]ConnectedApp, 0, len(in))
	for _, a := range in {
		if strings.TrimSpace(a.Topic) == "" {
			continue
		}
		// last write wins
		if idx, ok := seen[a.Topic]; ok {
			out[idx] = a
			continue
		}
		seen[a.Topic] = len(out)
		out = append(out, a)
	}
	return out
}

func cloneApp(a ConnectedApp) ConnectedApp {
	a.Accounts = append([]string(nil), a.Accounts...)
	return a
}

func cloneApps(in []ConnectedApp) []ConnectedApp {
	out := make([]ConnectedApp, 0, len(in))
	for _, a := range in {
		out = append(out, cloneApp(a))
	}
	return out
}
