package frontend

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-polytope-gateway/internal/request"
)

// statusBody is the polling/submission response shape. location points at the
// next URL a client should use: the polling endpoint while in flight, the
// download endpoint once a retrieve has completed.
type statusBody struct {
	Status        string `json:"status"`
	Message       string `json:"message"`
	Location      string `json:"location,omitempty"`
	ContentLength int64  `json:"contentLength,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
}

func pollingLocation(id string) string {
	return fmt.Sprintf("../requests/%s", id)
}

func downloadLocation(req *request.Request) string {
	if req.URL != "" {
		return req.URL
	}
	return fmt.Sprintf("../downloads/%s", req.ID)
}

// buildStatusBody renders a request into the polling response body.
func buildStatusBody(req *request.Request) statusBody {
	body := statusBody{
		Status:   string(req.Status),
		Message:  req.UserMessage,
		Location: pollingLocation(req.ID),
	}
	if req.Status == request.StatusProcessed && req.Verb == request.VerbRetrieve && !req.Evicted() {
		body.Location = downloadLocation(req)
		body.ContentLength = req.ContentLength
		body.ContentType = req.ContentType
	}
	return body
}

func respondMessage(c *gin.Context, code int, format string, args ...any) {
	c.JSON(code, gin.H{"message": fmt.Sprintf(format, args...)})
}
