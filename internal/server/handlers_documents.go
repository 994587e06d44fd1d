package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/collabstore/internal/resolvers"
	"github.com/gin-gonic/gin"
)

type documentPatchPayload struct {
	Name     *string `json:"name"`
	URL      *string `json:"url"`
	IsPublic *bool   `json:"isPublic"`
}

type unreadPayload struct {
	AnnotationCount       int `json:"annotationCount"`
	AnnotationMemberCount int `json:"annotationMemberCount"`
}

func (h *httpHandler) handleListDocuments(c *gin.Context) {
	filters, err := parseFilters(c)
	if err != nil {
		badRequest(c, "invalid_filters")
		return
	}
	documents, err := h.resolver.Documents(resolvers.DocumentQuery{
		Filters: filters,
		IDs:     stringList(c, "id"),
		UserID:  sessionFrom(c).UserID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": documents})
}

func (h *httpHandler) handleUploadDocument(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "missing_file")
		return
	}
	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		name = header.Filename
	}
	isPublic, _ := strconv.ParseBool(c.PostForm("isPublic"))

	content, err := header.Open()
	if err != nil {
		badRequest(c, "unreadable_file")
		return
	}
	defer content.Close()

	document, err := h.resolver.CreateDocumentWithContent(c.Request.Context(), resolvers.DocumentUpload{
		AuthorID: sessionFrom(c).UserID,
		Name:     name,
		IsPublic: isPublic,
		Content:  content,
	}, h.files)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, document)
}

func (h *httpHandler) handleGetDocument(c *gin.Context) {
	document, found, err := h.resolver.Document(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, document)
}

func (h *httpHandler) handleEditDocument(c *gin.Context) {
	var request documentPatchPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		badRequest(c, "invalid_request")
		return
	}
	document, found, err := h.resolver.EditDocument(c.Request.Context(), c.Param("id"), resolvers.DocumentPatch{
		Name:     request.Name,
		URL:      request.URL,
		IsPublic: request.IsPublic,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !found {
		notFound(c)
		return
	}
	c.JSON(http.StatusOK, document)
}

func (h *httpHandler) handleDeleteDocument(c *gin.Context) {
	result, err := h.resolver.DeleteDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleUnread(c *gin.Context) {
	since, ok, err := optionalInt64(c, "since")
	if err != nil || !ok {
		badRequest(c, "invalid_since")
		return
	}
	documentID := c.Param("id")
	annotations, err := h.resolver.AnnotationCount(documentID, since)
	if err != nil {
		h.writeError(c, err)
		return
	}
	members, err := h.resolver.AnnotationMemberCount(documentID, sessionFrom(c).UserID, since)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, unreadPayload{AnnotationCount: annotations, AnnotationMemberCount: members})
}
