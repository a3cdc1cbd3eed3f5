package worker

import (
	"context"
	"strings"

	"github.com/imrishuroy/go-polytope-gateway/internal/request"
)

// EchoDatasource reflects the submitted query back as the result. Used for
// development and end-to-end testing of the request lifecycle without a real
// backend.
type EchoDatasource struct{}

// Execute returns the request payload as the artifact for a retrieve, and
// succeeds without output for an archive.
func (EchoDatasource) Execute(_ context.Context, req *request.Request) (*Result, error) {
	if req.Verb == request.VerbArchive {
		return nil, nil
	}
	return &Result{
		Data:        strings.NewReader(req.UserRequest),
		ContentType: "application/octet-stream",
	}, nil
}
