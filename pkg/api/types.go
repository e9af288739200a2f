// Package api defines the wire protocol of the remote data service and the
// Transport collaborator used by the client engine to talk to it.
package api

import (
	"context"
)

// PageData is the payload of one successful page response.
type PageData struct {
	// Fields is the ordered list of column names for Items.
	Fields []string `json:"fields"`

	// Items holds the rows, each row aligned with Fields.
	Items [][]any `json:"items"`

	// HasMore reports whether the server holds further rows beyond this page.
	// Some server versions omit it, hence the pointer; absence means the
	// continuation state must be inferred from the row count.
	HasMore *bool `json:"has_more,omitempty"`
}

// More returns the HasMore flag and whether it was present in the response.
func (d *PageData) More() (more bool, ok bool) {
	if d.HasMore == nil {
		return false, false
	}
	return *d.HasMore, true
}

// Response is the decoded envelope every endpoint returns.
// Code 0 means success; any other value is an application-level error
// described by Msg.
type Response struct {
	Code int       `json:"code"`
	Msg  string    `json:"msg"`
	Data *PageData `json:"data"`
}

// request is the JSON body POSTed for every call. All endpoints share one
// URL; the endpoint is selected by APIName.
type request struct {
	APIName string         `json:"api_name"`
	Token   string         `json:"token"`
	Params  map[string]any `json:"params"`
	Fields  string         `json:"fields"`
}

// Transport issues one synchronous request against a named endpoint and
// returns the decoded response. Implementations carry the credential; the
// engine never sees it. A non-nil error is always a *TransportError
// (network or decoding failure); application errors arrive as a Response
// with a non-zero Code.
type Transport interface {
	Send(ctx context.Context, endpoint string, params map[string]any, fields []string) (*Response, error)
}
