package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/collabstore/internal/model"
	"github.com/spf13/afero"
)

const testStatePath = "/data/database.json"

type failingPersister struct {
	mu    sync.Mutex
	saves int
	fail  bool
}

func (p *failingPersister) Load(context.Context) (*State, bool, error) {
	return nil, false, nil
}

func (p *failingPersister) Save(context.Context, *State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves++
	if p.fail {
		return errors.New("disk full")
	}
	return nil
}

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (g *sequenceIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return "id-" + strconv.Itoa(g.next), nil
}

func newTestStore(t *testing.T, cfg Config) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if cfg.Persister == nil {
		persister, err := NewFilePersister(fs, testStatePath)
		if err != nil {
			t.Fatalf("failed to build persister: %v", err)
		}
		cfg.Persister = persister
	}
	if cfg.IDProvider == nil {
		cfg.IDProvider = &sequenceIDs{}
	}
	store, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, fs
}

func addUser(id string) WriteFunc {
	return func(_ context.Context, working *State, _ IDProvider) (*State, error) {
		working.Users = append(working.Users, model.User{ID: id, Email: id + "@example.com"})
		return working, nil
	}
}

func TestNewPersistsEmptyStateWhenMissing(t *testing.T) {
	_, fs := newTestStore(t, Config{})

	raw, err := afero.ReadFile(fs, testStatePath)
	if err != nil {
		t.Fatalf("expected state file to be created: %v", err)
	}
	var decoded map[string][]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("failed to decode state file: %v", err)
	}
	for _, key := range []string{"users", "documents", "annotations", "documentMembers", "annotationMembers"} {
		list, ok := decoded[key]
		if !ok {
			t.Fatalf("expected %s collection in state file", key)
		}
		if len(list) != 0 {
			t.Fatalf("expected %s to be empty, got %d", key, len(list))
		}
	}
}

func TestWriteCommitsAndPersistsBeforeReturning(t *testing.T) {
	store, fs := newTestStore(t, Config{})

	if err := store.Write(context.Background(), addUser("u1")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	persister, _ := NewFilePersister(fs, testStatePath)
	loaded, ok, err := persister.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected persisted state, ok=%v err=%v", ok, err)
	}
	if len(loaded.Users) != 1 || loaded.Users[0].ID != "u1" {
		t.Fatalf("unexpected persisted users: %#v", loaded.Users)
	}
	if store.Version() != 1 {
		t.Fatalf("expected version 1, got %d", store.Version())
	}
}

func TestOverlappingWritersDoNotLoseUpdates(t *testing.T) {
	store, _ := newTestStore(t, Config{})

	started := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- store.Write(context.Background(), func(ctx context.Context, working *State, ids IDProvider) (*State, error) {
			close(started)
			<-release
			working.Users = append(working.Users, model.User{ID: "writer-a"})
			return working, nil
		})
	}()
	<-started

	secondDone := make(chan error, 1)
	go func() {
		secondDone <- store.Write(context.Background(), addUser("writer-b"))
	}()

	select {
	case err := <-secondDone:
		t.Fatalf("second writer must wait for the first, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	if err := <-firstDone; err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := <-secondDone; err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	users := store.Snapshot().Users()
	if len(users) != 2 {
		t.Fatalf("expected both writers to be committed, got %#v", users)
	}
	if users[0].ID != "writer-a" || users[1].ID != "writer-b" {
		t.Fatalf("expected FIFO commit order, got %s then %s", users[0].ID, users[1].ID)
	}
}

func TestReadsDoNotWaitForSuspendedWriter(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	if err := store.Write(context.Background(), addUser("u1")); err != nil {
		t.Fatalf("seed write failed: %v", err)
	}

	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.Write(context.Background(), func(ctx context.Context, working *State, _ IDProvider) (*State, error) {
			working.Users = append(working.Users, model.User{ID: "u2"})
			working.Documents = append(working.Documents, model.Document{ID: "d1", AuthorID: "u2"})
			close(started)
			<-release
			return working, nil
		})
	}()
	<-started

	readDone := make(chan int, 1)
	go func() {
		store.Read(func(snapshot Snapshot) error {
			if len(snapshot.Documents()) != 0 {
				readDone <- -1
				return nil
			}
			readDone <- len(snapshot.Users())
			return nil
		})
	}()
	select {
	case users := <-readDone:
		if users != 1 {
			t.Fatalf("expected the prior committed state, got %d users", users)
		}
	case <-time.After(time.Second):
		t.Fatal("read blocked on a suspended writer")
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("write failed: %v", err)
	}
	snapshot := store.Snapshot()
	if len(snapshot.Users()) != 2 || len(snapshot.Documents()) != 1 {
		t.Fatalf("expected the full new state after commit")
	}
}

func TestFailedCallbackLeavesStateUnchanged(t *testing.T) {
	persister := &failingPersister{}
	store, _ := newTestStore(t, Config{Persister: persister})
	savesAfterInit := persister.saves

	callbackErr := errors.New("boom")
	err := store.Write(context.Background(), func(_ context.Context, working *State, _ IDProvider) (*State, error) {
		working.Users = append(working.Users, model.User{ID: "u1"})
		return nil, callbackErr
	})
	if !errors.Is(err, callbackErr) {
		t.Fatalf("expected callback error to propagate, got %v", err)
	}
	if len(store.Snapshot().Users()) != 0 {
		t.Fatalf("expected state unchanged")
	}
	if persister.saves != savesAfterInit {
		t.Fatalf("persistence must not be attempted for a failed callback")
	}
	if store.Version() != 0 {
		t.Fatalf("expected no commit, version %d", store.Version())
	}
}

func TestPanickingCallbackIsReportedAsError(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	err := store.Write(context.Background(), func(context.Context, *State, IDProvider) (*State, error) {
		panic("unexpected")
	})
	if err == nil {
		t.Fatalf("expected panic to surface as an error")
	}
	if err := store.Write(context.Background(), addUser("u1")); err != nil {
		t.Fatalf("queue must keep working after a panic: %v", err)
	}
}

func TestPersistFailureLeavesStateUnchanged(t *testing.T) {
	persister := &failingPersister{}
	store, _ := newTestStore(t, Config{Persister: persister})
	persister.fail = true

	if err := store.Write(context.Background(), addUser("u1")); err == nil {
		t.Fatalf("expected persistence error")
	}
	if len(store.Snapshot().Users()) != 0 {
		t.Fatalf("expected in-memory state to stay at the last durable commit")
	}
}

func TestNilStateIsRejected(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	err := store.Write(context.Background(), func(context.Context, *State, IDProvider) (*State, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrNilState) {
		t.Fatalf("expected ErrNilState, got %v", err)
	}
}

func TestWriteTimeoutUnblocksQueue(t *testing.T) {
	store, _ := newTestStore(t, Config{WriteTimeout: 50 * time.Millisecond})

	stuck := make(chan struct{})
	defer close(stuck)
	err := store.Write(context.Background(), func(ctx context.Context, working *State, _ IDProvider) (*State, error) {
		working.Users = append(working.Users, model.User{ID: "stuck"})
		<-stuck
		return working, nil
	})
	if !errors.Is(err, ErrWriteTimeout) {
		t.Fatalf("expected ErrWriteTimeout, got %v", err)
	}

	if err := store.Write(context.Background(), addUser("u1")); err != nil {
		t.Fatalf("expected queue to continue after timeout: %v", err)
	}
	users := store.Snapshot().Users()
	if len(users) != 1 || users[0].ID != "u1" {
		t.Fatalf("timed out write must be discarded, got %#v", users)
	}
}

func TestCanceledRequestIsSkipped(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := false
	err := store.Write(ctx, func(_ context.Context, working *State, _ IDProvider) (*State, error) {
		ran = true
		return working, nil
	})
	if !errors.Is(err, ErrWriteCanceled) {
		t.Fatalf("expected ErrWriteCanceled, got %v", err)
	}
	if ran {
		t.Fatalf("callback must not run for a canceled request")
	}
}

func TestCanceledCallerStopsWaitingBehindStalledWriter(t *testing.T) {
	store, _ := newTestStore(t, Config{QueueSize: 1, WriteTimeout: -1})

	release := make(chan struct{})
	started := make(chan struct{})
	stalled := make(chan error, 1)
	go func() {
		stalled <- store.Write(context.Background(), func(_ context.Context, working *State, _ IDProvider) (*State, error) {
			close(started)
			<-release
			return working, nil
		})
	}()
	<-started

	queuedCtx, cancelQueued := context.WithCancel(context.Background())
	queuedRan := make(chan struct{}, 1)
	queued := make(chan error, 1)
	go func() {
		queued <- store.Write(queuedCtx, func(_ context.Context, working *State, _ IDProvider) (*State, error) {
			queuedRan <- struct{}{}
			return working, nil
		})
	}()

	// The buffer holds the queued request, so this caller blocks on enqueue until its deadline.
	enqueueCtx, cancelEnqueue := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelEnqueue()
	time.Sleep(20 * time.Millisecond)
	if err := store.Write(enqueueCtx, addUser("late")); !errors.Is(err, ErrWriteCanceled) {
		t.Fatalf("expected enqueue to give up with ErrWriteCanceled, got %v", err)
	}

	cancelQueued()
	select {
	case err := <-queued:
		if !errors.Is(err, ErrWriteCanceled) {
			t.Fatalf("expected ErrWriteCanceled for abandoned request, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("canceled caller kept waiting behind the stalled writer")
	}

	close(release)
	if err := <-stalled; err != nil {
		t.Fatalf("stalled write failed: %v", err)
	}
	if err := store.Write(context.Background(), addUser("u1")); err != nil {
		t.Fatalf("queue did not recover: %v", err)
	}
	select {
	case <-queuedRan:
		t.Fatalf("abandoned callback must not run")
	default:
	}
	if users := store.Snapshot().Users(); len(users) != 1 || users[0].ID != "u1" {
		t.Fatalf("unexpected users %#v", users)
	}
}

func TestWritersRacingCloseAlwaysReturn(t *testing.T) {
	for round := 0; round < 50; round++ {
		store, _ := newTestStore(t, Config{})
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := store.Write(context.Background(), addUser("u"+strconv.Itoa(i)))
				if err != nil && !errors.Is(err, ErrClosed) {
					t.Errorf("unexpected error: %v", err)
				}
			}(i)
		}
		store.Close()
		finished := make(chan struct{})
		go func() {
			wg.Wait()
			close(finished)
		}()
		select {
		case <-finished:
		case <-time.After(2 * time.Second):
			t.Fatalf("round %d: a writer never returned after Close", round)
		}
	}
}

func TestSnapshotAccessorsReturnCopies(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	if err := store.Write(context.Background(), addUser("u1")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	store.Read(func(snapshot Snapshot) error {
		users := snapshot.Users()
		users[0].Email = "mutated@example.com"
		return nil
	})

	if store.Snapshot().Users()[0].Email != "u1@example.com" {
		t.Fatalf("snapshot mutation leaked into committed state")
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	store, _ := newTestStore(t, Config{})
	store.Close()
	if err := store.Write(context.Background(), addUser("u1")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestConcurrentWritersAllCommit(t *testing.T) {
	store, _ := newTestStore(t, Config{})

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			err := store.Write(context.Background(), func(_ context.Context, working *State, _ IDProvider) (*State, error) {
				time.Sleep(time.Millisecond)
				working.Documents = append(working.Documents, model.Document{ID: string(rune('a' + index))})
				return working, nil
			})
			if err != nil {
				t.Errorf("write %d failed: %v", index, err)
			}
		}(i)
	}
	wg.Wait()

	if got := len(store.Snapshot().Documents()); got != writers {
		t.Fatalf("expected %d documents, got %d", writers, got)
	}
	if store.Version() != writers {
		t.Fatalf("expected version %d, got %d", writers, store.Version())
	}
}

func TestStoreReloadsPersistedState(t *testing.T) {
	fs := afero.NewMemMapFs()
	persister, err := NewFilePersister(fs, testStatePath)
	if err != nil {
		t.Fatalf("failed to build persister: %v", err)
	}
	first, err := New(context.Background(), Config{Persister: persister})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	if err := first.Write(context.Background(), addUser("u1")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	first.Close()

	second, err := New(context.Background(), Config{Persister: persister})
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer second.Close()
	if users := second.Snapshot().Users(); len(users) != 1 || users[0].ID != "u1" {
		t.Fatalf("expected reloaded user, got %#v", users)
	}
}

func TestFilePersisterLowercasesLegacyEmails(t *testing.T) {
	fs := afero.NewMemMapFs()
	legacy := `{"users":[{"id":"u1","email":" Ann@Example.COM ","type":"STANDARD","status":"ACTIVE"}]}`
	if err := afero.WriteFile(fs, testStatePath, []byte(legacy), 0o644); err != nil {
		t.Fatalf("failed to seed legacy file: %v", err)
	}
	persister, err := NewFilePersister(fs, testStatePath)
	if err != nil {
		t.Fatalf("failed to build persister: %v", err)
	}

	state, ok, err := persister.Load(context.Background())
	if err != nil || !ok {
		t.Fatalf("expected legacy state to load, ok=%v err=%v", ok, err)
	}
	if len(state.Users) != 1 || state.Users[0].Email != "ann@example.com" {
		t.Fatalf("expected lowercase email, got %#v", state.Users)
	}
	if state.Documents == nil || state.AnnotationMembers == nil {
		t.Fatalf("expected missing collections to load as empty lists")
	}
}
