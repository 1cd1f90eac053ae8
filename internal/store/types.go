package store

import (
	"time"

	"github.com/rendis/flowsketch/pkg/schema"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendLibSQL = "libsql"
	BackendRedis  = "redis"
)

// Share is a flowchart published under a share link.
type Share struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	FlowchartCode string    `json:"flowchartCode"`
	SVGContent    string    `json:"svgContent,omitempty"`
	IsPublic      bool      `json:"isPublic"`
	Views         int64     `json:"views"`
	CreatedAt     time.Time `json:"createdAt"`
}

// ShareFilter narrows ListShares. Results are newest first.
type ShareFilter struct {
	PublicOnly bool
	Limit      int
	Offset     int
}

// Subscriber is a newsletter signup.
type Subscriber struct {
	Email        string    `json:"email"`
	Interests    []string  `json:"interests,omitempty"`
	Confirmed    bool      `json:"confirmed"`
	SubscribedAt time.Time `json:"subscribedAt"`
}

func storeNotFound(resource, id string) *schema.FlowsketchError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeConflict(resource, id string) *schema.FlowsketchError {
	return schema.NewErrorf(schema.ErrCodeConflict, "%s %q already exists", resource, id)
}

func storeFailure(op string, err error) *schema.FlowsketchError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s failed", op).WithCause(err)
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

// page applies offset and limit to n items and returns the slice bounds.
func page(n int, filter ShareFilter) (int, int) {
	start := min(max(filter.Offset, 0), n)
	end := n
	if filter.Limit > 0 && start+filter.Limit < end {
		end = start + filter.Limit
	}
	return start, end
}
