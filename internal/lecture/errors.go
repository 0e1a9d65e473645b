package lecture

import (
	"errors"

	"lectern-backend/internal/normalize"
	"lectern-backend/internal/retry"
	"lectern-backend/internal/services"
)

var (
	ErrEmptyScript       = errors.New("the AI returned an empty script")
	ErrNoPackage         = errors.New("no lecture has been generated yet")
	ErrNoAssignment      = errors.New("no assignment has been created for this lecture")
	ErrAssignmentExists  = errors.New("an assignment already exists for this lecture")
	ErrEmptySubmission   = errors.New("submission must include text or a file")
	ErrUnsupportedTarget = errors.New("unsupported language")
)

const (
	MsgBusy      = "The AI service is currently busy. Please wait a moment and try again."
	MsgMalformed = "The AI returned an invalid response format. Please try again."
)

// UserMessage turns an error into the text shown to the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, retry.ErrRateLimited):
		return MsgBusy
	case errors.Is(err, normalize.ErrMalformedResponse):
		return MsgMalformed
	case errors.Is(err, services.ErrKeyRejected):
		return services.ErrKeyRejected.Error()
	default:
		return "An error occurred: " + err.Error()
	}
}
