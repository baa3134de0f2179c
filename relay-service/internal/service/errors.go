package service

import "fmt"

// RejectedError reports an event refused by the relay. The connection has
// already been sent an error envelope with the same code.
type RejectedError struct {
	Code    string
	Event   string
	Message string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected (%s): %s", e.Event, e.Code, e.Message)
}
