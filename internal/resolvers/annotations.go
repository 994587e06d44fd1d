package resolvers

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/collabstore/internal/model"
	"github.com/MarcoPoloResearchLab/collabstore/internal/query"
	"github.com/MarcoPoloResearchLab/collabstore/internal/store"
)

const (
	opAnnotation       = "resolvers.annotation"
	opAnnotations      = "resolvers.annotations"
	opAnnotationCount  = "resolvers.annotation_count"
	opAddAnnotation    = "resolvers.add_annotation"
	opEditAnnotation   = "resolvers.edit_annotation"
	opDeleteAnnotation = "resolvers.delete_annotation"
)

// NewAnnotation is the input for AddAnnotation.
type NewAnnotation struct {
	ID         string
	XFDF       string
	AuthorID   string
	DocumentID string
	PageNumber int64
	InReplyTo  string
	CreatedAt  int64
}

// AnnotationPatch holds the fields EditAnnotation may change.
// An empty InReplyTo detaches the annotation from its thread.
type AnnotationPatch struct {
	XFDF       *string
	PageNumber *int64
	InReplyTo  *string
}

// AnnotationQuery narrows Annotations.
type AnnotationQuery struct {
	Filters     query.Filters
	IDs         []string
	DocumentID  string
	PageNumbers []int64
	InReplyTo   string
}

// Annotation looks an annotation up by id.
func (r *Resolver) Annotation(id string) (model.Annotation, bool, error) {
	var (
		annotation model.Annotation
		found      bool
	)
	err := r.read(opAnnotation, func(snapshot store.Snapshot) error {
		annotation, found = query.Find(snapshot.Annotations(), func(a model.Annotation) bool { return a.ID == id })
		return nil
	})
	return annotation, found, err
}

// Annotations runs a filtered list query.
func (r *Resolver) Annotations(q AnnotationQuery) ([]model.Annotation, error) {
	var result []model.Annotation
	err := r.read(opAnnotations, func(snapshot store.Snapshot) error {
		annotations, err := query.Apply(snapshot.Annotations(), q.Filters, r.boundsMode,
			query.MatchIDs[model.Annotation](q.IDs),
			query.MatchString(q.DocumentID, func(a model.Annotation) string { return a.DocumentID }),
			query.MatchInt64s(q.PageNumbers, func(a model.Annotation) int64 { return a.PageNumber }),
			query.MatchString(q.InReplyTo, func(a model.Annotation) string { return a.InReplyTo }),
		)
		if err != nil {
			return invalid(err)
		}
		result = annotations
		return nil
	})
	return result, err
}

// AnnotationCount counts annotations on documentID created strictly after since.
func (r *Resolver) AnnotationCount(documentID string, since int64) (int, error) {
	var count int
	err := r.read(opAnnotationCount, func(snapshot store.Snapshot) error {
		n, err := query.Count(snapshot.Annotations(), query.Filters{CreatedAfter: query.Int64(since)}, query.BoundsConjunctive,
			func(a model.Annotation) bool { return a.DocumentID == documentID },
		)
		if err != nil {
			return invalid(err)
		}
		count = n
		return nil
	})
	return count, err
}

// AddAnnotation stores a new annotation. The document and author must exist, and a reply target
// must be an existing annotation.
func (r *Resolver) AddAnnotation(ctx context.Context, input NewAnnotation) (model.Annotation, error) {
	supplied, err := model.ValidateID(input.ID)
	if err != nil {
		return model.Annotation{}, newServiceError(opAddAnnotation, reasonInvalidInput, invalid(err))
	}
	documentID, err := model.RequireID(input.DocumentID)
	if err != nil {
		return model.Annotation{}, newServiceError(opAddAnnotation, reasonInvalidInput, invalid(err))
	}
	authorID, err := model.RequireID(input.AuthorID)
	if err != nil {
		return model.Annotation{}, newServiceError(opAddAnnotation, reasonInvalidInput, invalid(err))
	}
	if err := model.ValidatePageNumber(input.PageNumber); err != nil {
		return model.Annotation{}, newServiceError(opAddAnnotation, reasonInvalidInput, invalid(err))
	}
	inReplyTo, err := model.ValidateID(input.InReplyTo)
	if err != nil {
		return model.Annotation{}, newServiceError(opAddAnnotation, reasonInvalidInput, invalid(err))
	}

	var created model.Annotation
	err = r.write(ctx, opAddAnnotation, func(_ context.Context, working *store.State, ids store.IDProvider) (*store.State, error) {
		if !documentExists(working.Documents, documentID) {
			return nil, fmt.Errorf("%w: document %s", ErrReferenceNotFound, documentID)
		}
		if !userExists(working.Users, authorID) {
			return nil, fmt.Errorf("%w: author %s", ErrReferenceNotFound, authorID)
		}
		id, err := assignID(working.Annotations, supplied, ids)
		if err != nil {
			return nil, err
		}
		if err := checkReplyTarget(working.Annotations, id, inReplyTo); err != nil {
			return nil, err
		}
		createdAt := input.CreatedAt
		if createdAt == 0 {
			createdAt = r.nowMillis()
		}
		created = model.Annotation{
			ID:         id,
			XFDF:       input.XFDF,
			AuthorID:   authorID,
			DocumentID: documentID,
			PageNumber: input.PageNumber,
			InReplyTo:  inReplyTo,
			CreatedAt:  createdAt,
			UpdatedAt:  createdAt,
		}
		working.Annotations = append(working.Annotations, created)
		return working, nil
	})
	if err != nil {
		return model.Annotation{}, err
	}
	return created, nil
}

// EditAnnotation shallow-merges patch over the annotation. A missing id returns found=false.
func (r *Resolver) EditAnnotation(ctx context.Context, id string, patch AnnotationPatch) (model.Annotation, bool, error) {
	if patch.PageNumber != nil {
		if err := model.ValidatePageNumber(*patch.PageNumber); err != nil {
			return model.Annotation{}, false, newServiceError(opEditAnnotation, reasonInvalidInput, invalid(err))
		}
	}
	var replyTo *string
	if patch.InReplyTo != nil {
		target, err := model.ValidateID(*patch.InReplyTo)
		if err != nil {
			return model.Annotation{}, false, newServiceError(opEditAnnotation, reasonInvalidInput, invalid(err))
		}
		replyTo = &target
	}

	var (
		updated model.Annotation
		found   bool
	)
	err := r.write(ctx, opEditAnnotation, func(_ context.Context, working *store.State, _ store.IDProvider) (*store.State, error) {
		index := query.Index(working.Annotations, id)
		if index == -1 {
			return working, nil
		}
		annotation := working.Annotations[index]
		if patch.XFDF != nil {
			annotation.XFDF = *patch.XFDF
		}
		if patch.PageNumber != nil {
			annotation.PageNumber = *patch.PageNumber
		}
		if replyTo != nil {
			if err := checkReplyTarget(working.Annotations, annotation.ID, *replyTo); err != nil {
				return nil, err
			}
			annotation.InReplyTo = *replyTo
		}
		annotation.UpdatedAt = r.nowMillis()
		working.Annotations[index] = annotation
		updated, found = annotation, true
		return working, nil
	})
	if err != nil {
		return model.Annotation{}, false, err
	}
	return updated, found, nil
}

// DeleteAnnotation hard-deletes the annotation row. Replies keep their inReplyTo link.
func (r *Resolver) DeleteAnnotation(ctx context.Context, id string) (DeleteResult, error) {
	var result DeleteResult
	err := r.write(ctx, opDeleteAnnotation, func(_ context.Context, working *store.State, _ store.IDProvider) (*store.State, error) {
		index := query.Index(working.Annotations, id)
		if index == -1 {
			return working, nil
		}
		working.Annotations = removeAt(working.Annotations, index)
		result.Successful = true
		return working, nil
	})
	return result, err
}

// checkReplyTarget verifies that target exists and that following its reply chain never reaches id.
// Chains that end at a deleted annotation are treated as terminated.
func checkReplyTarget(annotations []model.Annotation, id, target string) error {
	if target == "" {
		return nil
	}
	if target == id {
		return fmt.Errorf("%w: %s replies to itself", ErrReplyCycle, id)
	}
	if query.Index(annotations, target) == -1 {
		return fmt.Errorf("%w: annotation %s", ErrReferenceNotFound, target)
	}
	parents := make(map[string]string, len(annotations))
	for _, annotation := range annotations {
		parents[annotation.ID] = annotation.InReplyTo
	}
	visited := map[string]struct{}{}
	for current := target; current != ""; current = parents[current] {
		if current == id {
			return fmt.Errorf("%w: %s is an ancestor of %s", ErrReplyCycle, id, target)
		}
		if _, seen := visited[current]; seen {
			return nil
		}
		visited[current] = struct{}{}
	}
	return nil
}
