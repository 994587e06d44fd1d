package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/collabstore/internal/resolvers"
	"github.com/gin-gonic/gin"
)

type annotationPayload struct {
	ID         string `json:"id"`
	XFDF       string `json:"xfdf"`
	DocumentID string `json:"documentId"`
	PageNumber int64  `json:"pageNumber"`
	InReplyTo  string `json:"inReplyTo"`
	CreatedAt  int64  `json:"createdAt"`
}

type annotationPatchPayload struct {
	XFDF       *string `json:"xfdf"`
	PageNumber *int64  `json:"pageNumber"`
	InReplyTo  *string `json:"inReplyTo"`
}

func (h *httpHandler) handleListAnnotations(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		badRequest(c, "invalid_filters")
		return
	}
	pages, err := int64List(c, "pageNumber")
	if err != nil {
		badRequest(c, "invalid_filters")
		return
	}
	annotations, err := h.resolver.Annotations(resolvers.AnnotationQuery{
		Filters:     filters,
		IDs:         stringList(c, "id"),
		DocumentID:  c.Param("id"),
		PageNumbers: pages,
		InReplyTo:   c.Query("inReplyTo"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"annotations": annotations})
}

func (h *httpHandler) handleAddAnnotation(c *gin.Context) {
	var request annotationPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	if !h.allowBodyDocument(c, request.DocumentID) {
		return
	}
	session := sessionFrom(c)
	annotation, err := h.resolver.AddAnnotation(c.Request.Context(), resolvers.NewAnnotation{
		ID:         request.ID,
		XFDF:       request.XFDF,
		AuthorID:   session.UserID,
		DocumentID: request.DocumentID,
		PageNumber: request.PageNumber,
		InReplyTo:  request.InReplyTo,
		CreatedAt:  request.CreatedAt,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.realtime.Publish(RealtimeMessage{
		DocumentID: annotation.DocumentID,
		EventType:  RealtimeEventAnnotationChanged,
		RecordIDs:  []string{annotation.ID},
		ActorID:    session.UserID,
	})
	c.JSON(http.StatusOK, annotation)
}

func (h *httpHandler) handleEditAnnotation(c *gin.Context) {
	var request annotationPatchPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	annotation, found, err := h.resolver.EditAnnotation(c.Request.Context(), c.Param("id"), resolvers.AnnotationPatch{
		XFDF:       request.XFDF,
		PageNumber: request.PageNumber,
		InReplyTo:  request.InReplyTo,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found {
		notFound(c)
		return
	}
	h.realtime.Publish(RealtimeMessage{
		DocumentID: annotation.DocumentID,
		EventType:  RealtimeEventAnnotationChanged,
		RecordIDs:  []string{annotation.ID},
		ActorID:    sessionFrom(c).UserID,
	})
	c.JSON(http.StatusOK, annotation)
}

func (h *httpHandler) handleDeleteAnnotation(c *gin.Context) {
	id := c.Param("id")
	existing, found, err := h.resolver.Annotation(id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	result, err := h.resolver.DeleteAnnotation(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if found && result.Successful {
		h.realtime.Publish(RealtimeMessage{
			DocumentID: existing.DocumentID,
			EventType:  RealtimeEventAnnotationDeleted,
			RecordIDs:  []string{id},
			ActorID:    sessionFrom(c).UserID,
		})
	}
	c.JSON(http.StatusOK, result)
}
