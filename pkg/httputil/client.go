package httputil

import (
	"time"

	"github.com/go-resty/resty/v2"
)

// NewClient builds a resty client with the defaults shared by both upstream
// adapters. Outbound calls to the CRM and the gateway get a hard timeout so a
// stalled upstream cannot pin a webhook handler forever.
func NewClient(baseURL string) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15 * time.Second).
		SetHeader("Content-Type", "application/json")
}
