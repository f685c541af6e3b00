package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

const selectedKey = "selectedOperation"

// Store holds the authoritative in-memory session and mirrors it to a Backend
// on a single background writer. Writers never block callers: pending keys
// coalesce until the writer drains them.
type Store struct {
	backend   Backend
	logger    zerolog.Logger
	sealer    *sealer
	onFailure func(error)

	mu            sync.Mutex
	state         State
	selected      string
	pendingState  map[string]json.RawMessage
	pendingMirror map[string]json.RawMessage
	resetState    bool

	wake     chan struct{}
	flushReq chan chan struct{}
	quit     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// Option customizes the store.
type Option func(*storeOptions)

type storeOptions struct {
	logger     zerolog.Logger
	passphrase string
	onFailure  func(error)
}

// WithLogger routes load and persistence diagnostics to logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *storeOptions) {
		o.logger = logger
	}
}

// WithPassphrase seals every persisted value with a key derived from passphrase.
func WithPassphrase(passphrase string) Option {
	return func(o *storeOptions) {
		o.passphrase = passphrase
	}
}

// WithFailureHook is invoked after every swallowed persistence failure.
func WithFailureHook(hook func(error)) Option {
	return func(o *storeOptions) {
		if hook != nil {
			o.onFailure = hook
		}
	}
}

// Open restores the session from backend and starts the writer. Missing or
// corrupt entries are skipped; only a passphrase mismatch is fatal.
func Open(backend Backend, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("session: backend is required")
	}
	options := storeOptions{logger: zerolog.Nop(), onFailure: func(error) {}}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	s := &Store{
		backend:       backend,
		logger:        options.logger,
		onFailure:     options.onFailure,
		state:         State{},
		pendingState:  map[string]json.RawMessage{},
		pendingMirror: map[string]json.RawMessage{},
		wake:          make(chan struct{}, 1),
		flushReq:      make(chan chan struct{}),
		quit:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	if options.passphrase != "" {
		sl, err := s.unlock(options.passphrase)
		if err != nil {
			return nil, err
		}
		s.sealer = sl
	}
	s.restore()
	go s.run()
	return s, nil
}

func (s *Store) unlock(passphrase string) (*sealer, error) {
	meta, err := s.backend.Load(BucketMeta)
	if err != nil {
		return nil, fmt.Errorf("session: load meta: %w", err)
	}
	salt := meta[metaSalt]
	if len(salt) == 0 {
		salt, err = newSalt()
		if err != nil {
			return nil, fmt.Errorf("session: generate salt: %w", err)
		}
		sl, err := newSealer(passphrase, salt)
		if err != nil {
			return nil, err
		}
		check, err := sl.seal([]byte(checkPhrase))
		if err != nil {
			return nil, err
		}
		err = s.backend.Apply(map[string]Batch{BucketMeta: {Puts: map[string][]byte{metaSalt: salt, metaCheck: check}}})
		if err != nil {
			return nil, fmt.Errorf("session: store salt: %w", err)
		}
		return sl, nil
	}
	sl, err := newSealer(passphrase, salt)
	if err != nil {
		return nil, err
	}
	if check, ok := meta[metaCheck]; ok {
		plain, err := sl.open(check)
		if err != nil || string(plain) != checkPhrase {
			return nil, ErrPassphrase
		}
	}
	return sl, nil
}

func (s *Store) restore() {
	stored, err := s.backend.Load(BucketState)
	if err != nil {
		s.logger.Warn().Err(err).Msg("session: state bucket unreadable, starting empty")
		stored = nil
	}
	for key, data := range stored {
		if raw, ok := s.decode(BucketState, key, data); ok {
			s.state[key] = raw
		}
	}
	mirror, err := s.backend.Load(BucketMirror)
	if err != nil {
		s.logger.Warn().Err(err).Msg("session: mirror bucket unreadable")
		mirror = nil
	}
	for key, data := range mirror {
		raw, ok := s.decode(BucketMirror, key, data)
		if !ok {
			continue
		}
		if key == selectedKey {
			var name string
			if err := json.Unmarshal(raw, &name); err == nil {
				s.selected = name
			}
			continue
		}
		if IsMirrored(key) {
			s.state[key] = raw
		}
	}
}

func (s *Store) decode(bucket, key string, data []byte) (json.RawMessage, bool) {
	plain := data
	if s.sealer != nil {
		opened, err := s.sealer.open(data)
		if err != nil {
			s.logger.Warn().Str("bucket", bucket).Str("key", key).Err(err).Msg("session: skipping unreadable value")
			return nil, false
		}
		plain = opened
	} else if isSealed(data) {
		s.logger.Warn().Str("bucket", bucket).Str("key", key).Err(ErrSealed).Msg("session: skipping sealed value")
		return nil, false
	}
	if !json.Valid(plain) {
		s.logger.Warn().Str("bucket", bucket).Str("key", key).Msg("session: skipping corrupt value")
		return nil, false
	}
	return json.RawMessage(plain), true
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// MergeAndPersist shallow-merges patch into the current state and schedules
// the changed keys for persistence.
func (s *Store) MergeAndPersist(patch State) {
	if len(patch) == 0 {
		return
	}
	s.mu.Lock()
	for key, raw := range patch {
		value := cloneRaw(raw)
		s.state[key] = value
		s.pendingState[key] = value
		if IsMirrored(key) {
			s.pendingMirror[key] = value
		}
	}
	s.mu.Unlock()
	s.signal()
}

// Reset empties the session and deletes every mirrored identifier. The
// selected operation survives.
func (s *Store) Reset() {
	s.mu.Lock()
	s.state = State{}
	s.pendingState = map[string]json.RawMessage{}
	s.resetState = true
	for _, key := range MirroredKeys {
		s.pendingMirror[key] = nil
	}
	s.mu.Unlock()
	s.signal()
}

// Selected returns the last selected operation name.
func (s *Store) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// SetSelected records the operation the user last picked.
func (s *Store) SetSelected(name string) {
	s.mu.Lock()
	if s.selected == name {
		s.mu.Unlock()
		return
	}
	s.selected = name
	s.pendingMirror[selectedKey] = StringValue(name)
	s.mu.Unlock()
	s.signal()
}

// Flush blocks until everything merged so far has been handed to the backend.
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case s.flushReq <- done:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains pending writes, stops the writer and closes the backend.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.quit)
		<-s.done
		err = s.backend.Close()
	})
	return err
}

func (s *Store) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) run() {
	defer close(s.done)
	for {
		select {
		case <-s.wake:
			s.writePending()
		case done := <-s.flushReq:
			s.writePending()
			close(done)
		case <-s.quit:
			s.writePending()
			return
		}
	}
}

func (s *Store) writePending() {
	s.mu.Lock()
	stateWrites, mirrorWrites, reset := s.pendingState, s.pendingMirror, s.resetState
	s.pendingState = map[string]json.RawMessage{}
	s.pendingMirror = map[string]json.RawMessage{}
	s.resetState = false
	s.mu.Unlock()

	if len(stateWrites) == 0 && len(mirrorWrites) == 0 && !reset {
		return
	}
	if err := s.apply(stateWrites, mirrorWrites, reset); err != nil {
		s.requeue(stateWrites, mirrorWrites, reset)
		s.fail(err)
	}
}

func (s *Store) apply(stateWrites, mirrorWrites map[string]json.RawMessage, reset bool) error {
	batches := map[string]Batch{}
	stateBatch, err := s.buildBatch(stateWrites)
	if err != nil {
		return err
	}
	stateBatch.Reset = reset
	if !stateBatch.empty() {
		batches[BucketState] = stateBatch
	}
	mirrorBatch, err := s.buildBatch(mirrorWrites)
	if err != nil {
		return err
	}
	if !mirrorBatch.empty() {
		batches[BucketMirror] = mirrorBatch
	}
	return s.backend.Apply(batches)
}

// requeue puts a failed batch back behind anything merged since, so the next
// write retries it. A newer reset supersedes the failed state writes.
func (s *Store) requeue(stateWrites, mirrorWrites map[string]json.RawMessage, reset bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.resetState {
		for key, raw := range stateWrites {
			if _, newer := s.pendingState[key]; !newer {
				s.pendingState[key] = raw
			}
		}
		s.resetState = reset
	}
	for key, raw := range mirrorWrites {
		if _, newer := s.pendingMirror[key]; !newer {
			s.pendingMirror[key] = raw
		}
	}
}

func (s *Store) buildBatch(writes map[string]json.RawMessage) (Batch, error) {
	batch := Batch{Puts: map[string][]byte{}}
	for key, raw := range writes {
		if raw == nil {
			batch.Deletes = append(batch.Deletes, key)
			continue
		}
		data := []byte(raw)
		if s.sealer != nil {
			sealed, err := s.sealer.seal(data)
			if err != nil {
				return Batch{}, fmt.Errorf("session: seal %s: %w", key, err)
			}
			data = sealed
		}
		batch.Puts[key] = data
	}
	return batch, nil
}

func (s *Store) fail(err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Error().Err(err).Msg("session: persistence failed, in-memory state remains authoritative")
	s.onFailure(err)
}
