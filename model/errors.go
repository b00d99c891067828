package model

import (
	"net/http"

	"github.com/shubhambiswas2196/markgraph/core"
)

// ClassifyStatus wraps err as a core.TransientError when the provider HTTP
// status signals a retryable condition (429, 408 or any 5xx). Other errors
// are returned unchanged.
func ClassifyStatus(op string, status int, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= http.StatusInternalServerError:
		return core.NewTransientError(op, err)
	default:
		return err
	}
}
