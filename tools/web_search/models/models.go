package models

import "fmt"

// Result is a single web search hit in provider order.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// StatusError reports a non-success HTTP status from a search backend.
type StatusError struct {
	Backend string
	Code    int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s search returned status %d", e.Backend, e.Code)
}
