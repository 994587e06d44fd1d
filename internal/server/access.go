package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// documentLocator resolves the document a request targets. found is false when the addressed record does not exist.
type documentLocator func(h *httpHandler, c *gin.Context) (documentID string, found bool, err error)

// requireDocumentAccess rejects requests whose target document is outside the caller's visible set.
// Missing records pass through so handlers keep their own not-found responses.
func (h *httpHandler) requireDocumentAccess(locate documentLocator) gin.HandlerFunc {
	return func(c *gin.Context) {
		documentID, found, err := locate(h, c)
		if err != nil {
			h.writeError(c, err)
			return
		}
		if !found {
			c.Next()
			return
		}
		if !h.allowDocument(c, documentID) {
			return
		}
		c.Next()
	}
}

// allowDocument writes a 404 and returns false when the session user cannot reach documentID.
func (h *httpHandler) allowDocument(c *gin.Context, documentID string) bool {
	allowed, err := h.resolver.CanAccess(sessionFrom(c).UserID, documentID)
	if err != nil {
		h.writeError(c, err)
		return false
	}
	if !allowed {
		notFound(c)
		return false
	}
	return true
}

func documentFromParam(h *httpHandler, c *gin.Context) (string, bool, error) {
	document, found, err := h.resolver.Document(strings.TrimSpace(c.Param("id")))
	return document.ID, found, err
}

func annotationDocument(h *httpHandler, c *gin.Context) (string, bool, error) {
	annotation, found, err := h.resolver.Annotation(c.Param("id"))
	return annotation.DocumentID, found, err
}

func documentMemberDocument(h *httpHandler, c *gin.Context) (string, bool, error) {
	member, found, err := h.resolver.DocumentMember("", "", c.Param("id"))
	return member.DocumentID, found, err
}

func annotationMemberDocument(h *httpHandler, c *gin.Context) (string, bool, error) {
	member, found, err := h.resolver.AnnotationMember("", "", c.Param("id"))
	return member.DocumentID, found, err
}

// allowBodyDocument applies the same check to a document id taken from the request payload.
func (h *httpHandler) allowBodyDocument(c *gin.Context, documentID string) bool {
	document, found, err := h.resolver.Document(strings.TrimSpace(documentID))
	if err != nil {
		h.writeError(c, err)
		return false
	}
	if !found {
		return true
	}
	return h.allowDocument(c, document.ID)
}
