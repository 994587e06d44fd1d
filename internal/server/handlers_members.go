package server

import (
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/collabstore/internal/resolvers"
	"github.com/gin-gonic/gin"
)

// documentMembersPayload adds one existing user, or invites a list of emails.
type documentMembersPayload struct {
	UserID   string   `json:"userId"`
	Emails   []string `json:"emails"`
	LastRead int64    `json:"lastRead"`
}

type annotationMemberPayload struct {
	ID           string `json:"id"`
	AnnotationID string `json:"annotationId"`
	DocumentID   string `json:"documentId"`
	UserID       string `json:"userId"`
	LastRead     int64  `json:"lastRead"`
}

type memberPatchPayload struct {
	LastRead *int64 `json:"lastRead"`
}

func (h *httpHandler) handleListDocumentMembers(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		badRequest(c, "invalid_filters")
		return
	}
	members, err := h.resolver.DocumentMembers(resolvers.MemberQuery{
		Filters:    filters,
		IDs:        stringList(c, "id"),
		DocumentID: c.Param("id"),
		UserID:     c.Query("userId"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *httpHandler) handleAddDocumentMembers(c *gin.Context) {
	var request documentMembersPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	documentID := c.Param("id")
	actorID := sessionFrom(c).UserID

	if len(request.Emails) > 0 {
		invitations, err := h.resolver.InviteToDocument(c.Request.Context(), documentID, request.Emails)
		if err != nil {
			h.writeError(c, err)
			return
		}
		created := make([]string, 0, len(invitations))
		for _, invitation := range invitations {
			if invitation.Created {
				created = append(created, invitation.Member.ID)
			}
		}
		h.publishMembers(documentID, actorID, created)
		c.JSON(http.StatusOK, gin.H{"invitations": invitations})
		return
	}

	if strings.TrimSpace(request.UserID) == "" {
		badRequest(c, "invalid_request")
		return
	}
	member, created, err := h.resolver.AddDocumentMember(c.Request.Context(), resolvers.NewDocumentMember{
		DocumentID: documentID,
		UserID:     request.UserID,
		LastRead:   request.LastRead,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !created {
		c.JSON(http.StatusOK, gin.H{"member": nil, "created": false})
		return
	}
	h.publishMembers(documentID, actorID, []string{member.ID})
	c.JSON(http.StatusOK, gin.H{"member": member, "created": true})
}

func (h *httpHandler) publishMembers(documentID, actorID string, memberIDs []string) {
	if len(memberIDs) == 0 {
		return
	}
	h.realtime.Publish(RealtimeMessage{
		DocumentID: documentID,
		EventType:  RealtimeEventMembersChanged,
		RecordIDs:  memberIDs,
		ActorID:    actorID,
	})
}

func (h *httpHandler) handleEditDocumentMember(c *gin.Context) {
	var request memberPatchPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	member, found, err := h.resolver.EditDocumentMember(c.Request.Context(), c.Param("id"), resolvers.MemberPatch{LastRead: request.LastRead})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *httpHandler) handleDeleteDocumentMember(c *gin.Context) {
	result, err := h.resolver.DeleteDocumentMember(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleListAnnotationMembers(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		badRequest(c, "invalid_filters")
		return
	}
	members, err := h.resolver.AnnotationMembers(resolvers.AnnotationMemberQuery{
		Filters:      filters,
		IDs:          stringList(c, "id"),
		AnnotationID: c.Param("id"),
		UserID:       c.Query("userId"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (h *httpHandler) handleAddAnnotationMember(c *gin.Context) {
	var request annotationMemberPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	if !h.allowBodyDocument(c, request.DocumentID) {
		return
	}
	userID := request.UserID
	if strings.TrimSpace(userID) == "" {
		userID = sessionFrom(c).UserID
	}
	member, err := h.resolver.AddAnnotationMember(c.Request.Context(), resolvers.NewAnnotationMember{
		ID:           request.ID,
		DocumentID:   request.DocumentID,
		AnnotationID: request.AnnotationID,
		UserID:       userID,
		LastRead:     request.LastRead,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *httpHandler) handleEditAnnotationMember(c *gin.Context) {
	var request memberPatchPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	member, found, err := h.resolver.EditAnnotationMember(c.Request.Context(), c.Param("id"), resolvers.MemberPatch{LastRead: request.LastRead})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, member)
}

func (h *httpHandler) handleDeleteAnnotationMember(c *gin.Context) {
	result, err := h.resolver.DeleteAnnotationMember(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
