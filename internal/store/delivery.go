package store

// Delivery is one attempt-tracked unit of outbound work. Payload is the
// canonical byte snapshot; it never changes after enqueue.
type Delivery struct {
	ID             string
	OrgID          string
	SubscriptionID string
	EventType      string
	URL            string
	Secret         string
	Headers        map[string]string
	Payload        []byte
	Status         string
	Attempts       int
	MaxAttempts    int
	TimeoutSec     int
}
