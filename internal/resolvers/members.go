package resolvers

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/collabstore/internal/model"
	"github.com/MarcoPoloResearchLab/collabstore/internal/query"
	"github.com/MarcoPoloResearchLab/collabstore/internal/store"
)

const (
	opDocumentMember         = "resolvers.document_member"
	opDocumentMembers        = "resolvers.document_members"
	opAddDocumentMember      = "resolvers.add_document_member"
	opInviteToDocument       = "resolvers.invite_to_document"
	opEditDocumentMember     = "resolvers.edit_document_member"
	opDeleteDocumentMember   = "resolvers.delete_document_member"
	opAnnotationMember       = "resolvers.annotation_member"
	opAnnotationMembers      = "resolvers.annotation_members"
	opAnnotationMemberCount  = "resolvers.annotation_member_count"
	opAddAnnotationMember    = "resolvers.add_annotation_member"
	opEditAnnotationMember   = "resolvers.edit_annotation_member"
	opDeleteAnnotationMember = "resolvers.delete_annotation_member"
)

// NewDocumentMember is the input for AddDocumentMember.
type NewDocumentMember struct {
	ID         string
	DocumentID string
	UserID     string
	LastRead   int64
}

// NewAnnotationMember is the input for AddAnnotationMember.
type NewAnnotationMember struct {
	ID           string
	DocumentID   string
	AnnotationID string
	UserID       string
	LastRead     int64
}

// MemberPatch holds the fields a membership edit may change.
type MemberPatch struct {
	LastRead *int64
}

// MemberQuery narrows DocumentMembers.
type MemberQuery struct {
	Filters    query.Filters
	IDs        []string
	DocumentID string
	UserID     string
}

// AnnotationMemberQuery narrows AnnotationMembers.
type AnnotationMemberQuery struct {
	Filters      query.Filters
	IDs          []string
	AnnotationID string
	UserID       string
}

// Invitation reports the outcome of inviting one email to a document.
type Invitation struct {
	User    model.User           `json:"user"`
	Member  model.DocumentMember `json:"member"`
	Created bool                 `json:"created"`
}

// DocumentMember looks a membership up by memberID, or by the (documentID, userID) pair when memberID is empty.
func (r *Resolver) DocumentMember(documentID, userID, memberID string) (model.DocumentMember, bool, error) {
	var (
		member model.DocumentMember
		found  bool
	)
	err := r.read(opDocumentMember, func(snapshot store.Snapshot) error {
		member, found = query.Find(snapshot.DocumentMembers(), func(m model.DocumentMember) bool {
			if memberID != "" {
				return m.ID == memberID
			}
			return m.DocumentID == documentID && m.UserID == userID
		})
		return nil
	})
	return member, found, err
}

// DocumentMembers runs a filtered list query.
func (r *Resolver) DocumentMembers(q MemberQuery) ([]model.DocumentMember, error) {
	var result []model.DocumentMember
	err := r.read(opDocumentMembers, func(snapshot store.Snapshot) error {
		members, err := query.Apply(snapshot.DocumentMembers(), q.Filters, r.boundsMode,
			query.MatchIDs[model.DocumentMember](q.IDs),
			query.MatchString(q.DocumentID, func(m model.DocumentMember) string { return m.DocumentID }),
			query.MatchString(q.UserID, func(m model.DocumentMember) string { return m.UserID }),
		)
		if err != nil {
			return invalid(err)
		}
		result = members
		return nil
	})
	return result, err
}

// AddDocumentMember grants userID access to documentID. An existing membership for the pair
// leaves state untouched and reports created=false.
func (r *Resolver) AddDocumentMember(ctx context.Context, input NewDocumentMember) (model.DocumentMember, bool, error) {
	supplied, documentID, userID, err := validateMemberInput(input.ID, input.DocumentID, input.UserID)
	if err != nil {
		return model.DocumentMember{}, false, newServiceError(opAddDocumentMember, reasonInvalidInput, err)
	}

	var (
		member  model.DocumentMember
		created bool
	)
	err = r.write(ctx, opAddDocumentMember, func(_ context.Context, working *store.State, ids store.IDProvider) (*store.State, error) {
		if !documentExists(working.Documents, documentID) {
			return nil, fmt.Errorf("%w: document %s", ErrReferenceNotFound, documentID)
		}
		if !userExists(working.Users, userID) {
			return nil, fmt.Errorf("%w: user %s", ErrReferenceNotFound, userID)
		}
		if hasMembership(working.DocumentMembers, documentID, userID) {
			return working, nil
		}
		added, err := r.appendMembership(working, supplied, documentID, userID, input.LastRead, ids)
		if err != nil {
			return nil, err
		}
		member, created = added, true
		return working, nil
	})
	if err != nil {
		return model.DocumentMember{}, false, err
	}
	return member, created, nil
}

// InviteToDocument adds a membership for every email in one write. Unknown emails become
// ANONYMOUS users that sign-up later promotes. Emails already holding a membership are reported
// with created=false.
func (r *Resolver) InviteToDocument(ctx context.Context, documentID string, emails []string) ([]Invitation, error) {
	id, err := model.RequireID(documentID)
	if err != nil {
		return nil, newServiceError(opInviteToDocument, reasonInvalidInput, invalid(err))
	}
	normalized := make([]string, 0, len(emails))
	for _, email := range emails {
		value, err := model.NormalizeEmail(email)
		if err != nil {
			return nil, newServiceError(opInviteToDocument, reasonInvalidInput, invalid(err))
		}
		normalized = append(normalized, value)
	}

	var invitations []Invitation
	err = r.write(ctx, opInviteToDocument, func(_ context.Context, working *store.State, ids store.IDProvider) (*store.State, error) {
		if !documentExists(working.Documents, id) {
			return nil, fmt.Errorf("%w: document %s", ErrReferenceNotFound, id)
		}
		invitations = make([]Invitation, 0, len(normalized))
		now := r.nowMillis()
		for _, email := range normalized {
			user, found := query.Find(working.Users, func(u model.User) bool { return u.Email == email })
			if !found {
				userID, err := ids.NewID()
				if err != nil {
					return nil, err
				}
				user = model.User{
					ID:        userID,
					Email:     email,
					UserName:  email,
					Type:      model.UserTypeAnonymous,
					Status:    model.UserStatusActive,
					CreatedAt: now,
					UpdatedAt: now,
				}
				working.Users = append(working.Users, user)
			}
			if existing, ok := query.Find(working.DocumentMembers, func(m model.DocumentMember) bool {
				return m.DocumentID == id && m.UserID == user.ID
			}); ok {
				invitations = append(invitations, Invitation{User: user.Public(), Member: existing})
				continue
			}
			member, err := r.appendMembership(working, "", id, user.ID, 0, ids)
			if err != nil {
				return nil, err
			}
			invitations = append(invitations, Invitation{User: user.Public(), Member: member, Created: true})
		}
		return working, nil
	})
	if err != nil {
		return nil, err
	}
	return invitations, nil
}

// EditDocumentMember updates lastRead. A missing id returns found=false.
func (r *Resolver) EditDocumentMember(ctx context.Context, id string, patch MemberPatch) (model.DocumentMember, bool, error) {
	var (
		updated model.DocumentMember
		found   bool
	)
	err := r.write(ctx, opEditDocumentMember, func(_ context.Context, working *store.State, _ store.IDProvider) (*store.State, error) {
		index := query.Index(working.DocumentMembers, id)
		if index == -1 {
			return working, nil
		}
		member := working.DocumentMembers[index]
		if patch.LastRead != nil {
			member.LastRead = *patch.LastRead
		}
		member.UpdatedAt = r.nowMillis()
		working.DocumentMembers[index] = member
		updated, found = member, true
		return working, nil
	})
	if err != nil {
		return model.DocumentMember{}, false, err
	}
	return updated, found, nil
}

// DeleteDocumentMember removes the membership row. Annotation members of the document are kept.
func (r *Resolver) DeleteDocumentMember(ctx context.Context, id string) (DeleteResult, error) {
	var result DeleteResult
	err := r.write(ctx, opDeleteDocumentMember, func(_ context.Context, working *store.State, _ store.IDProvider) (*store.State, error) {
		index := query.Index(working.DocumentMembers, id)
		if index == -1 {
			return working, nil
		}
		working.DocumentMembers = removeAt(working.DocumentMembers, index)
		result.Successful = true
		return working, nil
	})
	return result, err
}

// AnnotationMember looks a row up by memberID, or by the (annotationID, userID) pair when memberID is empty.
func (r *Resolver) AnnotationMember(annotationID, userID, memberID string) (model.AnnotationMember, bool, error) {
	var (
		member model.AnnotationMember
		found  bool
	)
	err := r.read(opAnnotationMember, func(snapshot store.Snapshot) error {
		member, found = query.Find(snapshot.AnnotationMembers(), func(m model.AnnotationMember) bool {
			if memberID != "" {
				return m.ID == memberID
			}
			return m.AnnotationID == annotationID && m.UserID == userID
		})
		return nil
	})
	return member, found, err
}

// AnnotationMembers runs a filtered list query.
func (r *Resolver) AnnotationMembers(q AnnotationMemberQuery) ([]model.AnnotationMember, error) {
	var result []model.AnnotationMember
	err := r.read(opAnnotationMembers, func(snapshot store.Snapshot) error {
		members, err := query.Apply(snapshot.AnnotationMembers(), q.Filters, r.boundsMode,
			query.MatchIDs[model.AnnotationMember](q.IDs),
			query.MatchString(q.AnnotationID, func(m model.AnnotationMember) string { return m.AnnotationID }),
			query.MatchString(q.UserID, func(m model.AnnotationMember) string { return m.UserID }),
		)
		if err != nil {
			return invalid(err)
		}
		result = members
		return nil
	})
	return result, err
}

// AnnotationMemberCount counts userID's annotation member rows on documentID created strictly after since.
func (r *Resolver) AnnotationMemberCount(documentID, userID string, since int64) (int, error) {
	var count int
	err := r.read(opAnnotationMemberCount, func(snapshot store.Snapshot) error {
		n, err := query.Count(snapshot.AnnotationMembers(), query.Filters{CreatedAfter: query.Int64(since)}, query.BoundsConjunctive,
			func(m model.AnnotationMember) bool { return m.DocumentID == documentID && m.UserID == userID },
		)
		if err != nil {
			return invalid(err)
		}
		count = n
		return nil
	})
	return count, err
}

// AddAnnotationMember records read state for one annotation. The annotation, document and user must exist,
// and the annotation must belong to the document.
func (r *Resolver) AddAnnotationMember(ctx context.Context, input NewAnnotationMember) (model.AnnotationMember, error) {
	supplied, documentID, userID, err := validateMemberInput(input.ID, input.DocumentID, input.UserID)
	if err != nil {
		return model.AnnotationMember{}, newServiceError(opAddAnnotationMember, reasonInvalidInput, err)
	}
	annotationID, err := model.RequireID(input.AnnotationID)
	if err != nil {
		return model.AnnotationMember{}, newServiceError(opAddAnnotationMember, reasonInvalidInput, invalid(err))
	}

	var created model.AnnotationMember
	err = r.write(ctx, opAddAnnotationMember, func(_ context.Context, working *store.State, ids store.IDProvider) (*store.State, error) {
		annotationIndex := query.Index(working.Annotations, annotationID)
		if annotationIndex == -1 {
			return nil, fmt.Errorf("%w: annotation %s", ErrReferenceNotFound, annotationID)
		}
		if !documentExists(working.Documents, documentID) {
			return nil, fmt.Errorf("%w: document %s", ErrReferenceNotFound, documentID)
		}
		if working.Annotations[annotationIndex].DocumentID != documentID {
			return nil, fmt.Errorf("%w: annotation %s on document %s", ErrReferenceNotFound, annotationID, documentID)
		}
		if !userExists(working.Users, userID) {
			return nil, fmt.Errorf("%w: user %s", ErrReferenceNotFound, userID)
		}
		id, err := assignID(working.AnnotationMembers, supplied, ids)
		if err != nil {
			return nil, err
		}
		now := r.nowMillis()
		created = model.AnnotationMember{
			ID:           id,
			DocumentID:   documentID,
			AnnotationID: annotationID,
			UserID:       userID,
			LastRead:     input.LastRead,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		working.AnnotationMembers = append(working.AnnotationMembers, created)
		return working, nil
	})
	if err != nil {
		return model.AnnotationMember{}, err
	}
	return created, nil
}

// EditAnnotationMember updates lastRead. A missing id returns found=false.
func (r *Resolver) EditAnnotationMember(ctx context.Context, id string, patch MemberPatch) (model.AnnotationMember, bool, error) {
	var (
		updated model.AnnotationMember
		found   bool
	)
	err := r.write(ctx, opEditAnnotationMember, func(_ context.Context, working *store.State, _ store.IDProvider) (*store.State, error) {
		index := query.Index(working.AnnotationMembers, id)
		if index == -1 {
			return working, nil
		}
		member := working.AnnotationMembers[index]
		if patch.LastRead != nil {
			member.LastRead = *patch.LastRead
		}
		member.UpdatedAt = r.nowMillis()
		working.AnnotationMembers[index] = member
		updated, found = member, true
		return working, nil
	})
	if err != nil {
		return model.AnnotationMember{}, false, err
	}
	return updated, found, nil
}

// DeleteAnnotationMember removes one annotation member row.
func (r *Resolver) DeleteAnnotationMember(ctx context.Context, id string) (DeleteResult, error) {
	var result DeleteResult
	err := r.write(ctx, opDeleteAnnotationMember, func(_ context.Context, working *store.State, _ store.IDProvider) (*store.State, error) {
		index := query.Index(working.AnnotationMembers, id)
		if index == -1 {
			return working, nil
		}
		working.AnnotationMembers = removeAt(working.AnnotationMembers, index)
		result.Successful = true
		return working, nil
	})
	return result, err
}

func (r *Resolver) appendMembership(working *store.State, supplied, documentID, userID string, lastRead int64, ids store.IDProvider) (model.DocumentMember, error) {
	id, err := assignID(working.DocumentMembers, supplied, ids)
	if err != nil {
		return model.DocumentMember{}, err
	}
	now := r.nowMillis()
	member := model.DocumentMember{
		ID:         id,
		DocumentID: documentID,
		UserID:     userID,
		LastRead:   lastRead,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	working.DocumentMembers = append(working.DocumentMembers, member)
	return member, nil
}

func hasMembership(members []model.DocumentMember, documentID, userID string) bool {
	for _, member := range members {
		if member.DocumentID == documentID && member.UserID == userID {
			return true
		}
	}
	return false
}

func validateMemberInput(rawID, rawDocumentID, rawUserID string) (string, string, string, error) {
	id, err := model.ValidateID(rawID)
	if err != nil {
		return "", "", "", invalid(err)
	}
	documentID, err := model.RequireID(rawDocumentID)
	if err != nil {
		return "", "", "", invalid(err)
	}
	userID, err := model.RequireID(rawUserID)
	if err != nil {
		return "", "", "", invalid(err)
	}
	return id, documentID, userID, nil
}
