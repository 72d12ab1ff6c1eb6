// Package session owns the answer to "who is logged in". The store is the
// only writer of the current user and bearer token; the HTTP client and the
// UI read from it and react to its transitions.
package session

import "sync"

type State int

const (
	Anonymous State = iota
	Authenticated
)

type User struct {
	ID    string
	Name  string
	Email string
	Photo string
}

// Store holds the authenticated user and access token. All methods are safe
// for concurrent use. When constructed with a Storage, every transition is
// mirrored to disk so the session survives restarts.
type Store struct {
	mu       sync.RWMutex
	user     *User
	token    string
	loggedIn bool

	storage *Storage

	subs   map[int]chan State
	nextID int
}

func NewStore(storage *Storage) *Store {
	return &Store{
		storage: storage,
		subs:    make(map[int]chan State),
	}
}

// Restore loads a previously persisted session, if any. A missing record is
// not an error; the store simply stays anonymous.
func (s *Store) Restore() error {
	if s.storage == nil {
		return nil
	}
	rec, err := s.storage.Load()
	if err != nil {
		return err
	}
	if rec == nil || !rec.LoggedIn {
		return nil
	}

	s.mu.Lock()
	s.user = &User{ID: rec.UserID, Name: rec.Name, Email: rec.Email, Photo: rec.Photo}
	s.token = rec.AccessToken
	s.loggedIn = true
	s.mu.Unlock()

	s.broadcast(Authenticated)
	return nil
}

// Login records the authenticated user and token.
func (s *Store) Login(user User, token string) {
	s.mu.Lock()
	u := user
	s.user = &u
	s.token = token
	s.loggedIn = true
	s.mu.Unlock()

	s.persist()
	s.broadcast(Authenticated)
}

// SetToken replaces the access token only, used after a refresh.
func (s *Store) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	s.persist()
}

// Logout clears the session. Safe to call when already anonymous.
func (s *Store) Logout() {
	s.mu.Lock()
	wasLoggedIn := s.loggedIn
	s.user = nil
	s.token = ""
	s.loggedIn = false
	s.mu.Unlock()

	if s.storage != nil {
		_ = s.storage.Clear()
	}
	if wasLoggedIn {
		s.broadcast(Anonymous)
	}
}

// Current returns a copy of the logged-in user, or nil when anonymous.
func (s *Store) Current() *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Store) LoggedIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loggedIn
}

// Watch returns a channel of state transitions and an unsubscribe function.
// Slow watchers miss transitions rather than blocking the store.
func (s *Store) Watch() (<-chan State, func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	ch := make(chan State, 4)
	s.subs[id] = ch
	s.mu.Unlock()

	unsubscribe := func() {
		s.mu.Lock()
		if sub, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(sub)
		}
		s.mu.Unlock()
	}
	return ch, unsubscribe
}

func (s *Store) broadcast(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- state:
		default:
		}
	}
}

func (s *Store) persist() {
	if s.storage == nil {
		return
	}
	s.mu.RLock()
	rec := Record{LoggedIn: s.loggedIn, AccessToken: s.token}
	if s.user != nil {
		rec.UserID = s.user.ID
		rec.Name = s.user.Name
		rec.Email = s.user.Email
		rec.Photo = s.user.Photo
	}
	s.mu.RUnlock()
	_ = s.storage.Save(rec)
}
