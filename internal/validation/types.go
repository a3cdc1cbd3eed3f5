package validation

// SubmitRequest is the payload for POST /api/v1/requests/{collection}.
type SubmitRequest struct {
	Verb    string `json:"verb" validate:"required,oneof=retrieve archive"`
	Request string `json:"request" validate:"required"` // opaque query descriptor, never parsed here
	URL     string `json:"url,omitempty" validate:"omitempty,url"` // archive only: pull source data from here
}
