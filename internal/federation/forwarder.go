package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/imrishuroy/go-polytope-gateway/internal/collection"
	"github.com/imrishuroy/go-polytope-gateway/internal/request"
	"github.com/imrishuroy/go-polytope-gateway/internal/worker"
)

// Forwarder is a worker datasource that submits the request to a remote
// gateway instance, relays its lifecycle by polling, and republishes the
// remote result into local staging.
type Forwarder struct {
	link    collection.FederationLink
	client  *http.Client
	log     zerolog.Logger
	sleepFn func(ctx context.Context, d time.Duration) error
}

// NewForwarder builds a Forwarder for one federation link.
func NewForwarder(link collection.FederationLink, client *http.Client, log zerolog.Logger) *Forwarder {
	if client == nil {
		client = &http.Client{
			// Redirects carry the poll/download protocol; follow them manually.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	return &Forwarder{
		link:    link,
		client:  client,
		log:     log.With().Str("component", "federation").Str("remote", link.URL).Logger(),
		sleepFn: sleepCtx,
	}
}

// Execute forwards the request end to end: submit, poll, download.
func (f *Forwarder) Execute(ctx context.Context, req *request.Request) (*worker.Result, error) {
	id := IdentityOf(req.User)
	id.Hops++
	if f.link.MaxHops > 0 && id.Hops > f.link.MaxHops {
		return nil, fmt.Errorf("request traversed %d instances: %w", id.Hops, ErrTooManyHops)
	}

	pollURL, retryAfter, err := f.submit(ctx, req, id)
	if err != nil {
		return nil, err
	}

	resultURL, err := f.poll(ctx, req.Verb, pollURL, retryAfter, id)
	if err != nil {
		return nil, err
	}
	if req.Verb == request.VerbArchive {
		return nil, nil
	}
	return f.download(ctx, resultURL)
}

// submit posts the request to the remote submission interface, authenticating
// with the pre-shared secret rather than the original end-user credential.
func (f *Forwarder) submit(ctx context.Context, req *request.Request, id Identity) (string, time.Duration, error) {
	payload := map[string]string{
		"verb":    string(req.Verb),
		"request": req.UserRequest,
	}
	if req.URL != "" {
		// archive pull source, must reach the instance that executes it
		payload["url"] = req.URL
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", 0, fmt.Errorf("marshal remote request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/requests/%s", f.link.URL, f.link.Collection)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if err := f.authorize(httpReq, id); err != nil {
		return "", 0, err
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return "", 0, fmt.Errorf("submit to remote gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return "", 0, remoteError("submission", url, resp)
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", 0, fmt.Errorf("remote gateway returned 202 without a Location header")
	}
	f.log.Info().Str("request_id", req.ID).Str("poll_url", location).Msg("request forwarded")
	return f.absolute(location), parseRetryAfter(resp.Header.Get("Retry-After")), nil
}

// poll uses the same poll/backoff contract a client would: repeat while 202,
// sleeping for Retry-After between attempts, until the terminal response.
func (f *Forwarder) poll(ctx context.Context, verb request.Verb, pollURL string, retryAfter time.Duration, id Identity) (string, error) {
	wantStatus := http.StatusSeeOther // retrieve completes with a redirect
	if verb == request.VerbArchive {
		wantStatus = http.StatusOK
	}

	url := pollURL
	for {
		if err := f.sleepFn(ctx, retryAfter); err != nil {
			return "", err
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return "", err
		}
		if err := f.authorize(httpReq, id); err != nil {
			return "", err
		}

		resp, err := f.client.Do(httpReq)
		if err != nil {
			return "", fmt.Errorf("poll remote gateway: %w", err)
		}

		switch resp.StatusCode {
		case http.StatusAccepted:
			if loc := resp.Header.Get("Location"); loc != "" {
				url = f.absolute(loc)
			}
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
			resp.Body.Close()
		case wantStatus:
			location := f.absolute(resp.Header.Get("Location"))
			resp.Body.Close()
			return location, nil
		default:
			defer resp.Body.Close()
			return "", remoteError("polling", url, resp)
		}
	}
}

// download streams the remote result for republication into local staging.
func (f *Forwarder) download(ctx context.Context, resultURL string) (*worker.Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, resultURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("download remote result: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, remoteError("download", resultURL, resp)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &worker.Result{Data: resp.Body, ContentType: contentType}, nil
}

func (f *Forwarder) authorize(httpReq *http.Request, id Identity) error {
	httpReq.Header.Set("Authorization",
		fmt.Sprintf("Federation %s:%s:%s", f.link.Secret, id.Username, id.Realm))
	encoded, err := id.Encode()
	if err != nil {
		return err
	}
	httpReq.Header.Set(ForwardedHeader, encoded)
	return nil
}

// absolute resolves frontend-relative locations ("../downloads/<id>") against
// the remote API base.
func (f *Forwarder) absolute(location string) string {
	if location == "" {
		return location
	}
	if len(location) > 3 && location[:3] == "../" {
		return fmt.Sprintf("%s/api/v1/%s", f.link.URL, location[3:])
	}
	return location
}

func remoteError(step, url string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(body)
	var parsed struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Message != "" {
		msg = parsed.Message
	}
	return fmt.Errorf("remote gateway %s failed at %s: HTTP %d: %s", step, url, resp.StatusCode, msg)
}

func parseRetryAfter(raw string) time.Duration {
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil || secs <= 0 {
		return time.Second
	}
	return time.Duration(secs * float64(time.Second))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
