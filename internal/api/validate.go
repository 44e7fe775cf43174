package api

import (
	"fmt"
	"net/url"

	"hookgate/internal/model"
)

func validateSubscriptionRequest(req *model.SubscriptionRequest) error {
	if req.OrgID == "" {
		return fmt.Errorf("orgId is required")
	}
	if !validDestinationURL(req.URL) {
		return fmt.Errorf("url must be http or https")
	}
	if len(req.Events) == 0 {
		return fmt.Errorf("events must be non-empty")
	}
	for _, ev := range req.Events {
		if ev == "" {
			return fmt.Errorf("event types must be non-empty strings")
		}
	}
	return nil
}

func validDestinationURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
