package resolvers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/MarcoPoloResearchLab/collabstore/internal/model"
	"github.com/MarcoPoloResearchLab/collabstore/internal/query"
	"github.com/MarcoPoloResearchLab/collabstore/internal/store"
	"go.uber.org/zap"
)

const (
	opDocument                  = "resolvers.document"
	opDocuments                 = "resolvers.documents"
	opVisibleDocuments          = "resolvers.visible_documents"
	opCanAccess                 = "resolvers.can_access"
	opAddDocument               = "resolvers.add_document"
	opCreateDocumentWithContent = "resolvers.create_document_with_content"
	opEditDocument              = "resolvers.edit_document"
	opDeleteDocument            = "resolvers.delete_document"
)

var errContentWrite = errors.New("resolvers: content write failed")

// FileWriter places document bytes in external storage and returns the url they are served from.
// RemoveFile undoes a write whose document was never committed.
type FileWriter interface {
	WriteFile(ctx context.Context, name string, content io.Reader) (string, error)
	RemoveFile(ctx context.Context, name string) error
}

// NewDocument is the input for AddDocument.
type NewDocument struct {
	ID        string
	Name      string
	AuthorID  string
	URL       string
	IsPublic  bool
	CreatedAt int64
}

// DocumentUpload is the input for CreateDocumentWithContent.
type DocumentUpload struct {
	AuthorID string
	Name     string
	IsPublic bool
	Content  io.Reader
}

// DocumentPatch holds the fields EditDocument may change.
type DocumentPatch struct {
	Name     *string
	URL      *string
	IsPublic *bool
}

// DocumentQuery narrows Documents. UserID restricts results to documents visible to that user.
type DocumentQuery struct {
	Filters query.Filters
	IDs     []string
	UserID  string
}

// Document looks a document up by id.
func (r *Resolver) Document(id string) (model.Document, bool, error) {
	var (
		document model.Document
		found    bool
	)
	err := r.read(opDocument, func(snapshot store.Snapshot) error {
		document, found = query.Find(snapshot.Documents(), func(d model.Document) bool { return d.ID == id })
		return nil
	})
	return document, found, err
}

// Documents runs a filtered list query.
func (r *Resolver) Documents(q DocumentQuery) ([]model.Document, error) {
	var result []model.Document
	err := r.read(opDocuments, func(snapshot store.Snapshot) error {
		candidates := snapshot.Documents()
		if q.UserID != "" {
			candidates = visibleTo(candidates, snapshot.DocumentMembers(), q.UserID)
		}
		documents, err := query.Apply(candidates, q.Filters, r.boundsMode, query.MatchIDs[model.Document](q.IDs))
		if err != nil {
			return invalid(err)
		}
		result = documents
		return nil
	})
	return result, err
}

// VisibleDocuments returns the documents userID authored followed by the documents they are a member of.
// A document appears once even when the user is both author and member.
func (r *Resolver) VisibleDocuments(userID string) ([]model.Document, error) {
	var result []model.Document
	err := r.read(opVisibleDocuments, func(snapshot store.Snapshot) error {
		result = visibleTo(snapshot.Documents(), snapshot.DocumentMembers(), userID)
		return nil
	})
	return result, err
}

// CanAccess reports whether documentID is in the visible set of userID: the user authored it or holds a membership.
// A missing document is never accessible.
func (r *Resolver) CanAccess(userID, documentID string) (bool, error) {
	var allowed bool
	err := r.read(opCanAccess, func(snapshot store.Snapshot) error {
		if userID == "" {
			return nil
		}
		document, found := query.Find(snapshot.Documents(), func(d model.Document) bool { return d.ID == documentID })
		if !found {
			return nil
		}
		allowed = document.AuthorID == userID || hasMembership(snapshot.DocumentMembers(), documentID, userID)
		return nil
	})
	return allowed, err
}

func visibleTo(documents []model.Document, members []model.DocumentMember, userID string) []model.Document {
	if userID == "" {
		return []model.Document{}
	}
	seen := make(map[string]struct{})
	visible := make([]model.Document, 0)
	for _, document := range documents {
		if document.AuthorID == userID {
			seen[document.ID] = struct{}{}
			visible = append(visible, document)
		}
	}
	for _, member := range members {
		if member.UserID != userID {
			continue
		}
		if _, ok := seen[member.DocumentID]; ok {
			continue
		}
		index := query.Index(documents, member.DocumentID)
		if index == -1 {
			continue
		}
		seen[member.DocumentID] = struct{}{}
		visible = append(visible, documents[index])
	}
	return visible
}

// AddDocument stores a new document. A supplied id that already exists is a conflict.
func (r *Resolver) AddDocument(ctx context.Context, input NewDocument) (model.Document, error) {
	supplied, authorID, err := validateNewDocument(input.ID, input.AuthorID, input.Name)
	if err != nil {
		return model.Document{}, newServiceError(opAddDocument, reasonInvalidInput, err)
	}

	var created model.Document
	err = r.write(ctx, opAddDocument, func(_ context.Context, working *store.State, ids store.IDProvider) (*store.State, error) {
		if !userExists(working.Users, authorID) {
			return nil, fmt.Errorf("%w: author %s", ErrReferenceNotFound, authorID)
		}
		id, err := assignID(working.Documents, supplied, ids)
		if err != nil {
			return nil, err
		}
		now := r.nowMillis()
		createdAt := input.CreatedAt
		if createdAt == 0 {
			createdAt = now
		}
		created = model.Document{
			ID:        id,
			Name:      strings.TrimSpace(input.Name),
			AuthorID:  authorID,
			URL:       input.URL,
			IsPublic:  input.IsPublic,
			CreatedAt: createdAt,
			UpdatedAt: createdAt,
		}
		working.Documents = append(working.Documents, created)
		return working, nil
	})
	if err != nil {
		return model.Document{}, err
	}
	return created, nil
}

// CreateDocumentWithContent writes the content through writer and records the document in the same write,
// so the id used for the stored file and the row always agree. The writer runs while the write
// queue is held.
func (r *Resolver) CreateDocumentWithContent(ctx context.Context, upload DocumentUpload, writer FileWriter) (model.Document, error) {
	_, authorID, err := validateNewDocument("", upload.AuthorID, upload.Name)
	if err != nil {
		return model.Document{}, newServiceError(opCreateDocumentWithContent, reasonInvalidInput, err)
	}
	if writer == nil || upload.Content == nil {
		return model.Document{}, newServiceError(opCreateDocumentWithContent, reasonInvalidInput, fmt.Errorf("%w: content is required", ErrInvalidInput))
	}
	name := strings.TrimSpace(upload.Name)

	var (
		created model.Document
		// written is set from the write callback, which may outlive a timed out Write.
		written atomic.Pointer[string]
	)
	err = r.write(ctx, opCreateDocumentWithContent, func(ctx context.Context, working *store.State, ids store.IDProvider) (*store.State, error) {
		if !userExists(working.Users, authorID) {
			return nil, fmt.Errorf("%w: author %s", ErrReferenceNotFound, authorID)
		}
		id, err := assignID(working.Documents, "", ids)
		if err != nil {
			return nil, err
		}
		fileName := id + filepath.Ext(name)
		url, err := writer.WriteFile(ctx, fileName, upload.Content)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", errContentWrite, err)
		}
		written.Store(&fileName)
		if err := ctx.Err(); err != nil {
			// Write has given up on this callback; the caller may already have checked written.
			r.discardFile(ctx, writer, fileName)
			return nil, err
		}
		now := r.nowMillis()
		created = model.Document{
			ID:        id,
			Name:      name,
			AuthorID:  authorID,
			URL:       url,
			IsPublic:  upload.IsPublic,
			CreatedAt: now,
			UpdatedAt: now,
		}
		working.Documents = append(working.Documents, created)
		return working, nil
	})
	if err != nil {
		if fileName := written.Load(); fileName != nil {
			r.discardFile(ctx, writer, *fileName)
		}
		return model.Document{}, err
	}
	return created, nil
}

// discardFile removes content whose document row never committed.
func (r *Resolver) discardFile(ctx context.Context, writer FileWriter, name string) {
	if err := writer.RemoveFile(context.WithoutCancel(ctx), name); err != nil {
		r.logError(opCreateDocumentWithContent, reasonContentWrite, err, zap.String("file", name))
	}
}

// EditDocument shallow-merges patch over the document. A missing id returns found=false.
func (r *Resolver) EditDocument(ctx context.Context, id string, patch DocumentPatch) (model.Document, bool, error) {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return model.Document{}, false, newServiceError(opEditDocument, reasonInvalidInput, fmt.Errorf("%w: name is empty", ErrInvalidInput))
	}

	var (
		updated model.Document
		found   bool
	)
	err := r.write(ctx, opEditDocument, func(_ context.Context, working *store.State, _ store.IDProvider) (*store.State, error) {
		index := query.Index(working.Documents, id)
		if index == -1 {
			return working, nil
		}
		document := working.Documents[index]
		if patch.Name != nil {
			document.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.URL != nil {
			document.URL = *patch.URL
		}
		if patch.IsPublic != nil {
			document.IsPublic = *patch.IsPublic
		}
		document.UpdatedAt = r.nowMillis()
		working.Documents[index] = document
		updated, found = document, true
		return working, nil
	})
	if err != nil {
		return model.Document{}, false, err
	}
	return updated, found, nil
}

// DeleteDocument hard-deletes the document row.
func (r *Resolver) DeleteDocument(ctx context.Context, id string) (DeleteResult, error) {
	var result DeleteResult
	err := r.write(ctx, opDeleteDocument, func(_ context.Context, working *store.State, _ store.IDProvider) (*store.State, error) {
		index := query.Index(working.Documents, id)
		if index == -1 {
			return working, nil
		}
		working.Documents = removeAt(working.Documents, index)
		result.Successful = true
		return working, nil
	})
	return result, err
}

func validateNewDocument(rawID, rawAuthorID, name string) (string, string, error) {
	id, err := model.ValidateID(rawID)
	if err != nil {
		return "", "", invalid(err)
	}
	authorID, err := model.RequireID(rawAuthorID)
	if err != nil {
		return "", "", invalid(err)
	}
	if strings.TrimSpace(name) == "" {
		return "", "", fmt.Errorf("%w: name is empty", ErrInvalidInput)
	}
	return id, authorID, nil
}
