package store

import (
	"slices"

	"github.com/MarcoPoloResearchLab/collabstore/internal/model"
)

// State is the full content of the five collections. It doubles as the durable layout.
type State struct {
	Users             []model.User             `json:"users"`
	Documents         []model.Document         `json:"documents"`
	Annotations       []model.Annotation       `json:"annotations"`
	DocumentMembers   []model.DocumentMember   `json:"documentMembers"`
	AnnotationMembers []model.AnnotationMember `json:"annotationMembers"`
}

// NewState returns a state with all five collections empty.
func NewState() *State {
	return &State{
		Users:             []model.User{},
		Documents:         []model.Document{},
		Annotations:       []model.Annotation{},
		DocumentMembers:   []model.DocumentMember{},
		AnnotationMembers: []model.AnnotationMember{},
	}
}

// Clone returns a deep copy. Entities are flat value types, so copying the slices is enough.
func (s *State) Clone() *State {
	if s == nil {
		return NewState()
	}
	return &State{
		Users:             cloneOrEmpty(s.Users),
		Documents:         cloneOrEmpty(s.Documents),
		Annotations:       cloneOrEmpty(s.Annotations),
		DocumentMembers:   cloneOrEmpty(s.DocumentMembers),
		AnnotationMembers: cloneOrEmpty(s.AnnotationMembers),
	}
}

func cloneOrEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return slices.Clone(items)
}

// Snapshot is a read-only view of one committed state.
// The underlying state is never mutated after commit and every accessor hands out a copy.
type Snapshot struct {
	state   *State
	version int64
}

// Version reports the commit count the snapshot was taken at.
func (s Snapshot) Version() int64 {
	return s.version
}

// Users, Documents, Annotations, DocumentMembers and AnnotationMembers return copies of the committed tables.
func (s Snapshot) Users() []model.User {
	return cloneOrEmpty(s.state.Users)
}

func (s Snapshot) Documents() []model.Document {
	return cloneOrEmpty(s.state.Documents)
}

func (s Snapshot) Annotations() []model.Annotation {
	return cloneOrEmpty(s.state.Annotations)
}

func (s Snapshot) DocumentMembers() []model.DocumentMember {
	return cloneOrEmpty(s.state.DocumentMembers)
}

func (s Snapshot) AnnotationMembers() []model.AnnotationMember {
	return cloneOrEmpty(s.state.AnnotationMembers)
}

// State returns a deep copy of the whole snapshot.
func (s Snapshot) State() *State {
	return s.state.Clone()
}
