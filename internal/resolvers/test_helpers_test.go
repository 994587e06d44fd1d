package resolvers

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/collabstore/internal/model"
	"github.com/MarcoPoloResearchLab/collabstore/internal/store"
	"github.com/spf13/afero"
)

type sequenceIDs struct {
	mu   sync.Mutex
	next int
}

func (g *sequenceIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return "gen-" + strconv.Itoa(g.next), nil
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// switchablePersister fails every Save while failing is set.
type switchablePersister struct {
	store.Persister
	failing atomic.Bool
}

func (p *switchablePersister) Save(ctx context.Context, state *store.State) error {
	if p.failing.Load() {
		return errors.New("disk full")
	}
	return p.Persister.Save(ctx, state)
}

func newTestResolver(t *testing.T) (*Resolver, *store.Store, *fixedClock) {
	t.Helper()
	r, s, clock, _ := newTestResolverWithPersister(t)
	return r, s, clock
}

func newTestResolverWithPersister(t *testing.T) (*Resolver, *store.Store, *fixedClock, *switchablePersister) {
	t.Helper()
	filePersister, err := store.NewFilePersister(afero.NewMemMapFs(), "/data/database.json")
	if err != nil {
		t.Fatalf("failed to build persister: %v", err)
	}
	persister := &switchablePersister{Persister: filePersister}
	s, err := store.New(context.Background(), store.Config{Persister: persister, IDProvider: &sequenceIDs{}})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	clock := &fixedClock{now: time.UnixMilli(1000).UTC()}
	resolver, err := New(Config{Store: s, Clock: clock.Now})
	if err != nil {
		t.Fatalf("failed to build resolver: %v", err)
	}
	return resolver, s, clock, persister
}

func mustAddUser(t *testing.T, r *Resolver, id, email string) model.User {
	t.Helper()
	user, err := r.AddUser(context.Background(), NewUser{ID: id, Email: email, Password: "hash"})
	if err != nil {
		t.Fatalf("failed to add user %s: %v", id, err)
	}
	return user
}

func mustAddDocument(t *testing.T, r *Resolver, id, authorID string) model.Document {
	t.Helper()
	document, err := r.AddDocument(context.Background(), NewDocument{ID: id, Name: id + ".pdf", AuthorID: authorID})
	if err != nil {
		t.Fatalf("failed to add document %s: %v", id, err)
	}
	return document
}

func mustAddAnnotation(t *testing.T, r *Resolver, input NewAnnotation) model.Annotation {
	t.Helper()
	if input.PageNumber == 0 {
		input.PageNumber = 1
	}
	annotation, err := r.AddAnnotation(context.Background(), input)
	if err != nil {
		t.Fatalf("failed to add annotation %s: %v", input.ID, err)
	}
	return annotation
}

func mustAddMember(t *testing.T, r *Resolver, documentID, userID string) model.DocumentMember {
	t.Helper()
	member, created, err := r.AddDocumentMember(context.Background(), NewDocumentMember{DocumentID: documentID, UserID: userID})
	if err != nil {
		t.Fatalf("failed to add member %s/%s: %v", documentID, userID, err)
	}
	if !created {
		t.Fatalf("expected membership %s/%s to be created", documentID, userID)
	}
	return member
}

func recordIDs[T model.Record](items []T) []string {
	result := make([]string, 0, len(items))
	for _, item := range items {
		result = append(result, item.RecordID())
	}
	return result
}

func sameIDs(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
