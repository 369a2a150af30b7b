// Copyright © 2024 The zs-debug-adapter authors

package dapserver

import (
	"fmt"

	"github.com/google/go-dap"
	"github.com/pkg/errors"

	"github.com/warmthdawn/zs-debug-adapter/internal/async"
)

// Error ids of DAP error responses.
const (
	errIDRequest  = 1000
	errIDInternal = 1001
)

const internalErrorMessage = "Internal error."

// requestError is a failure the client caused, such as a missing argument
// or a stale handle. Its message is shown to the client verbatim and the
// session continues.
type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func requestErrorf(format string, args ...interface{}) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

var errNotAttached = &requestError{msg: "Not attached to a target"}

// sendError answers req with an error response. Errors other than
// requestError are logged with their stack and answered generically.
func (h *handler) sendError(req *dap.Request, err error) {
	if errors.Is(err, async.ErrShutdown) {
		h.log.WithField("command", req.Command).Debug("Request abandoned at shutdown")
		return
	}
	id, msg := errIDRequest, err.Error()
	var rerr *requestError
	if !errors.As(err, &rerr) {
		h.log.WithField("command", req.Command).Errorf("Request failed: %+v", err)
		id, msg = errIDInternal, internalErrorMessage
	}
	resp := &dap.ErrorResponse{}
	resp.Response = h.newResponse(req.Seq, req.Command)
	resp.Success = false
	resp.Message = msg
	resp.Body.Error = &dap.ErrorMessage{
		Id:       id,
		Format:   msg,
		ShowUser: id == errIDRequest,
	}
	h.send(resp)
}
