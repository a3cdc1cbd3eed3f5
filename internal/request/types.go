package request

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a request. It is a closed set; every
// mutation of a stored status goes through the transition table in status.go.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Verb is the operation a request performs against its collection.
type Verb string

const (
	VerbRetrieve Verb = "retrieve"
	VerbArchive  Verb = "archive"
)

// User is the identity snapshot captured at submission time. Later permission
// changes do not retroactively affect in-flight requests.
type User struct {
	ID         string            `dynamodbav:"id" json:"id"`
	Username   string            `dynamodbav:"username" json:"username"`
	Realm      string            `dynamodbav:"realm" json:"realm"`
	Roles      []string          `dynamodbav:"roles,omitempty" json:"roles,omitempty"`
	Attributes map[string]string `dynamodbav:"attributes,omitempty" json:"attributes,omitempty"`
}

// NewUser derives a stable user ID from (username, realm) so that the same
// identity maps to the same ID regardless of which instance created it.
func NewUser(username, realm string) User {
	return User{
		ID:       uuid.NewSHA1(uuid.Nil, []byte(username+realm)).String(),
		Username: username,
		Realm:    realm,
	}
}

// Request is the item stored in the requests DynamoDB table.
//
// id, collection, verb, user, user_request and timestamp are immutable after
// creation. status is mutated only through conditional writes (store.Transition).
type Request struct {
	ID            string  `dynamodbav:"id" json:"id"` // PK
	Collection    string  `dynamodbav:"collection" json:"collection"`
	Verb          Verb    `dynamodbav:"verb" json:"verb"`
	User          User    `dynamodbav:"user" json:"user"`
	UserID        string  `dynamodbav:"user_id" json:"-"` // GSI key, denormalized from User.ID
	UserRequest   string  `dynamodbav:"user_request" json:"user_request"`
	Status        Status  `dynamodbav:"status" json:"status"` // GSI key
	Timestamp     float64 `dynamodbav:"timestamp" json:"timestamp"`
	LastModified  float64 `dynamodbav:"last_modified" json:"last_modified"`
	URL           string  `dynamodbav:"url,omitempty" json:"url,omitempty"`
	ContentLength int64   `dynamodbav:"content_length,omitempty" json:"content_length,omitempty"`
	ContentType   string  `dynamodbav:"content_type,omitempty" json:"content_type,omitempty"`
	MD5           string  `dynamodbav:"md5,omitempty" json:"md5,omitempty"`
	UserMessage   string  `dynamodbav:"user_message,omitempty" json:"user_message,omitempty"`
}

// New creates a request in the initial queued state.
func New(user User, collection string, verb Verb, userRequest string) Request {
	now := epoch(time.Now())
	return Request{
		ID:           uuid.NewString(),
		Collection:   collection,
		Verb:         verb,
		User:         user,
		UserID:       user.ID,
		UserRequest:  userRequest,
		Status:       StatusQueued,
		Timestamp:    now,
		LastModified: now,
		ContentType:  "application/octet-stream",
	}
}

// Terminal reports whether no further transition is permitted from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusProcessed, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Evicted reports whether the request's staged artifact was removed after it
// completed. A processed retrieve with no URL has been garbage collected and
// its download must return 410 Gone.
func (r *Request) Evicted() bool {
	return r.Status == StatusProcessed && r.Verb == VerbRetrieve && r.URL == ""
}

func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
