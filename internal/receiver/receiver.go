// Package receiver provides the request model and dispatcher of the upload
// endpoint. A request moves through a short decision tree:
//
//	resolve → check | ingest | unknown action → response segments.
//
// The dispatcher is transport agnostic; the HTTP server and the command line
// both build a Request and render the resulting Outcome.
package receiver

import (
	"encoding/json"
	"io"

	"github.com/tomasbasham/site-receiver/internal/identity"
	"github.com/tomasbasham/site-receiver/internal/storage"
)

// Action is the operation a client asks the receiver to perform.
type Action string

const (
	ActionCheck  Action = "test"
	ActionIngest Action = "store"
)

// ParseAction maps the raw form value onto an Action. An absent action is a
// check.
func ParseAction(raw string) (Action, bool) {
	switch Action(raw) {
	case "", ActionCheck:
		return ActionCheck, true
	case ActionIngest:
		return ActionIngest, true
	default:
		return "", false
	}
}

// Request is one call to the receiver.
type Request struct {
	// Action is the raw action value sent by the client.
	Action string

	// RemoteParty is the network origin of the caller. It is sanitized before
	// it becomes part of a file name.
	RemoteParty string

	// Files are the uploaded parts in submission order.
	Files []storage.UploadedFile

	// Batch is true when the client used the array form of the upload field.
	// It selects the counted final message.
	Batch bool
}

// Response is one JSON segment written back to the client.
type Response struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// OK reports whether the segment signals success.
func (r Response) OK() bool { return r.Error == 0 }

// Outcome is the result of a dispatched request.
type Outcome struct {
	Identity identity.Identity

	// Segments are written in order: per-file errors first, then the final
	// response.
	Segments []Response

	// Stored lists the artifacts persisted by an ingest.
	Stored []*storage.Artifact
}

// Final returns the last segment, which carries the overall result.
func (o *Outcome) Final() (Response, bool) {
	if len(o.Segments) == 0 {
		return Response{}, false
	}
	return o.Segments[len(o.Segments)-1], true
}

// Encode writes the segments as a stream of pretty-printed JSON objects.
func (o *Outcome) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "    ")
	for _, seg := range o.Segments {
		if err := enc.Encode(seg); err != nil {
			return err
		}
	}
	return nil
}
