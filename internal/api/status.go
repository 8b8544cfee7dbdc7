package api

import (
	"io"
	"net/http"

	"github.com/duckpad/duckpad/internal/query"
	"github.com/duckpad/duckpad/internal/render"
)

type statusResponse struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}

func engineStatus(deps Dependencies) query.Status {
	if deps.Engine == nil {
		return query.Status{Err: query.ErrNotConnected}
	}
	status := deps.Engine.Status()
	if !status.Connected && status.Err == nil {
		status.Err = query.ErrNotConnected
	}
	return status
}

func handleStatus(deps Dependencies, w http.ResponseWriter, _ *http.Request) {
	status := engineStatus(deps)
	response := statusResponse{Connected: status.Connected}
	if status.Err != nil {
		response.Error = status.Err.Error()
	}
	writeJSON(w, http.StatusOK, response)
}

// handleStatusHTML returns an empty fragment when the engine is connected and
// the initialization error otherwise.
func handleStatusHTML(deps Dependencies, w http.ResponseWriter, _ *http.Request) {
	status := engineStatus(deps)
	if status.Connected {
		writeHTML(w, http.StatusOK, func(io.Writer) error { return nil })
		return
	}
	writeHTML(w, http.StatusOK, func(out io.Writer) error {
		return render.Error(out, render.InitErrorTitle, status.Err)
	})
}
