package session

import (
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opslane/shellsup/src/debounce"
	"github.com/opslane/shellsup/src/lib"
	"github.com/opslane/shellsup/src/shellerr"
)

const debounceDelay = 500 * time.Millisecond

var (
	storeInstance *Store
	storeOnce     sync.Once
)

// Store is the in-memory Session Store (C4): a name/id indexed map of
// sessions whose mutations are persisted through a debounced saver.
type Store struct {
	mu        sync.RWMutex
	stateRoot string
	sessions  map[string]*Session // by id
	byName    map[string]string   // name -> id
	saver     *debounce.Saver
}

// New constructs a Store rooted at stateRoot, loads any persisted sessions,
// and guarantees the default session exists.
func New(stateRoot string) (*Store, error) {
	s := &Store{
		stateRoot: stateRoot,
		sessions:  make(map[string]*Session),
		byName:    make(map[string]string),
	}
	s.saver = debounce.New(debounceDelay, func(key string, payload any) error {
		sess := payload.(*Session)
		return saveSession(s.stateRoot, sess)
	})

	loaded, err := loadSessions(stateRoot)
	if err != nil {
		return nil, err
	}
	for _, sess := range loaded {
		s.sessions[sess.ID] = sess
		s.byName[sess.Name] = sess.ID
	}

	if _, ok := s.byName[DefaultSessionName]; !ok {
		if _, err := s.Create(DefaultSessionName, "", nil); err != nil {
			return nil, err
		}
		// The default session is created synchronously and flushed so it
		// exists on disk immediately, matching "guaranteed to exist after
		// startup" rather than waiting out the debounce window.
		s.saver.Flush(s.byName[DefaultSessionName])
	}

	return s, nil
}

// Get returns the singleton Store for stateRoot, constructing it on first
// use (mirrors the teacher's GetProcessManager singleton pattern).
func Get(stateRoot string) (*Store, error) {
	var initErr error
	storeOnce.Do(func() {
		storeInstance, initErr = New(stateRoot)
	})
	if initErr != nil {
		return nil, initErr
	}
	return storeInstance, nil
}

// Create adds a new session. It fails if name is already taken.
func (s *Store) Create(name, cwd string, env map[string]string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return nil, shellerr.Conflictf("session %q already exists", name)
	}

	if cwd == "" {
		cwd = "/"
	} else if formatted, err := lib.FormatPath(cwd); err == nil {
		cwd = formatted
	}
	if env == nil {
		env = snapshotEnv()
	}

	now := time.Now()
	sess := &Session{
		ID:       uuid.NewString(),
		Name:     name,
		Cwd:      cwd,
		Env:      env,
		Created:  now,
		LastUsed: now,
		History:  nil,
	}

	s.sessions[sess.ID] = sess
	s.byName[sess.Name] = sess.ID
	s.scheduleLocked(sess)

	return sess.Clone(), nil
}

func snapshotEnv() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				env[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return env
}

// Get resolves a session by id first, then by name.
func (s *Store) Get(nameOrID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, err := s.lookupLocked(nameOrID)
	if err != nil {
		return nil, err
	}
	return sess.Clone(), nil
}

func (s *Store) lookupLocked(nameOrID string) (*Session, error) {
	if sess, ok := s.sessions[nameOrID]; ok {
		return sess, nil
	}
	if id, ok := s.byName[nameOrID]; ok {
		return s.sessions[id], nil
	}
	return nil, shellerr.NotFoundf("session %q not found", nameOrID)
}

// Update merges patch into the session identified by id, refreshes
// LastUsed, and schedules persistence.
func (s *Store) Update(nameOrID string, patch Patch) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookupLocked(nameOrID)
	if err != nil {
		return nil, err
	}

	if patch.Cwd != nil {
		cwd, err := lib.FormatPath(*patch.Cwd)
		if err != nil {
			return nil, shellerr.Invalidf("cd: %v", err)
		}
		sess.Cwd = cwd
	}
	for k, v := range patch.Env {
		if v == "" {
			delete(sess.Env, k)
		} else {
			sess.Env[k] = v
		}
	}
	sess.LastUsed = time.Now()
	s.scheduleLocked(sess)

	return sess.Clone(), nil
}

// Delete removes a non-default session, cancelling any pending save and
// removing its persistence file. The caller is responsible for stopping any background
// processes owned by the session before calling Delete (C5 concern).
func (s *Store) Delete(nameOrID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookupLocked(nameOrID)
	if err != nil {
		return err
	}
	if sess.Name == DefaultSessionName {
		return shellerr.Conflictf("cannot delete the default session")
	}

	s.saver.Cancel(sess.ID)
	delete(s.sessions, sess.ID)
	delete(s.byName, sess.Name)

	if err := deleteSessionFile(s.stateRoot, sess.ID); err != nil {
		logrus.WithFields(logrus.Fields{"component": "session", "id": sess.ID}).
			Warnf("failed to remove session file: %v", err)
	}
	return nil
}

// ListSessions returns a snapshot of every known session.
func (s *Store) ListSessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Clone())
	}
	return out
}

// AppendHistory records a completed command against a session, enforcing
// the in-memory history cap, and schedules persistence.
func (s *Store) AppendHistory(nameOrID string, entry CommandHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.lookupLocked(nameOrID)
	if err != nil {
		return err
	}

	sess.History = append(sess.History, entry)
	if len(sess.History) > InMemoryHistoryLimit {
		sess.History = sess.History[len(sess.History)-InMemoryHistoryLimit:]
	}
	s.scheduleLocked(sess)
	return nil
}

// SearchHistory returns history entries for a session whose command or args
// match pattern as a case-insensitive regular expression.
func (s *Store) SearchHistory(nameOrID, pattern string) ([]CommandHistoryEntry, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, shellerr.Invalidf("invalid search pattern: %v", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, err := s.lookupLocked(nameOrID)
	if err != nil {
		return nil, err
	}

	var matches []CommandHistoryEntry
	for _, h := range sess.History {
		if re.MatchString(h.Command) {
			matches = append(matches, h)
			continue
		}
		for _, a := range h.Args {
			if re.MatchString(a) {
				matches = append(matches, h)
				break
			}
		}
	}
	return matches, nil
}

// scheduleLocked must be called with s.mu held for writing.
func (s *Store) scheduleLocked(sess *Session) {
	s.saver.Schedule(sess.ID, sess.Clone())
}

// FlushAll synchronously persists every pending session save, used on
// graceful shutdown.
func (s *Store) FlushAll() {
	s.saver.Flush("")
}
