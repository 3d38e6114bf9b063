package web

import (
	"github.com/ShoshinNikita/filepreview/preview"
	"github.com/ShoshinNikita/filepreview/session"
)

type (
	// PropsRequest is the body of session requests. Multipart requests use the same
	// names for form fields, and the file is passed as "file".
	PropsRequest struct {
		Source           string           `json:"source"`
		Type             preview.FileType `json:"type"`
		PlaceholderImage string           `json:"placeholder_image"`
		ErrorImage       string           `json:"error_image"`
		Clarity          int              `json:"clarity"`
	}

	SessionResponse struct {
		ID         string           `json:"id"`
		Generation uint64           `json:"generation"`
		State      session.State    `json:"state"`
		Type       preview.FileType `json:"type,omitempty"`
		// Error is the reason of the errored state.
		Error string       `json:"error,omitempty"`
		Node  session.Node `json:"node"`
	}

	ResolveResponse struct {
		Type preview.FileType `json:"type"`
	}
)

func newSessionResponse(id string, snap session.Snapshot) SessionResponse {
	resp := SessionResponse{
		ID:         id,
		Generation: snap.Generation,
		State:      snap.State,
		Type:       snap.Type,
		Node:       session.Render(snap),
	}
	if snap.Err != nil {
		resp.Error = snap.Err.Error()
	}
	return resp
}
