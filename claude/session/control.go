package session

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randalmurphal/claudeagent/claudecontract"
)

// ControlRequest is a control_request envelope in either direction.
// Request is the complete request object, including "subtype".
type ControlRequest struct {
	RequestID string
	Subtype   string
	Request   json.RawMessage
}

// DecodeRequest decodes the request object into v.
func (r *ControlRequest) DecodeRequest(v any) error {
	if err := unmarshalExact(r.Request, v); err != nil {
		return fmt.Errorf("decode %s request: %w", r.Subtype, err)
	}
	return nil
}

// ControlResponse is a control_response envelope. Response is the success
// payload (may be empty); Error is set for the error subtype.
type ControlResponse struct {
	Subtype   string
	RequestID string
	Response  json.RawMessage
	Error     string
}

// IsError returns true for the error subtype.
func (r *ControlResponse) IsError() bool {
	return r.Subtype == claudecontract.ControlResponseError
}

// ControlCancelRequest asks this side to abandon an inbound control request.
type ControlCancelRequest struct {
	RequestID string
}

func (*ControlRequest) Type() string       { return claudecontract.EventTypeControlRequest }
func (*ControlResponse) Type() string      { return claudecontract.EventTypeControlResponse }
func (*ControlCancelRequest) Type() string { return claudecontract.EventTypeControlCancelRequest }

func (*ControlRequest) isFrame()       {}
func (*ControlResponse) isFrame()      {}
func (*ControlCancelRequest) isFrame() {}

func (r *ControlRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string          `json:"type"`
		RequestID string          `json:"request_id"`
		Request   json.RawMessage `json:"request"`
	}{claudecontract.EventTypeControlRequest, r.RequestID, r.Request})
}

func (r *ControlResponse) MarshalJSON() ([]byte, error) {
	type body struct {
		Subtype   string          `json:"subtype"`
		RequestID string          `json:"request_id"`
		Response  json.RawMessage `json:"response,omitempty"`
		Error     string          `json:"error,omitempty"`
	}
	b := body{Subtype: r.Subtype, RequestID: r.RequestID}
	if r.IsError() {
		b.Error = r.Error
	} else {
		b.Response = r.Response
	}
	return json.Marshal(struct {
		Type     string `json:"type"`
		Response body   `json:"response"`
	}{claudecontract.EventTypeControlResponse, b})
}

func (r *ControlCancelRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		RequestID string `json:"request_id"`
	}{claudecontract.EventTypeControlCancelRequest, r.RequestID})
}

// newControlRequest builds an outbound request envelope from a payload
// struct or map. The subtype is injected into the request object.
func newControlRequest(requestID, subtype string, payload any) (*ControlRequest, error) {
	fields := map[string]any{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", subtype, err)
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("%s request payload must be an object: %w", subtype, err)
		}
	}
	fields["subtype"] = subtype
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", subtype, err)
	}
	return &ControlRequest{RequestID: requestID, Subtype: subtype, Request: raw}, nil
}

// successResponse builds a success response; a nil payload sends no body.
func successResponse(requestID string, payload any) (*ControlResponse, error) {
	resp := &ControlResponse{Subtype: claudecontract.ControlResponseSuccess, RequestID: requestID}
	if payload == nil {
		return resp, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal response: %w", err)
	}
	resp.Response = data
	return resp, nil
}

func errorResponse(requestID, message string) *ControlResponse {
	return &ControlResponse{
		Subtype:   claudecontract.ControlResponseError,
		RequestID: requestID,
		Error:     message,
	}
}

func decodeControlRequest(line []byte) (*ControlRequest, error) {
	var w struct {
		RequestID string          `json:"request_id"`
		Request   json.RawMessage `json:"request"`
	}
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, err
	}
	if w.RequestID == "" {
		return nil, errors.New("control_request missing request_id")
	}
	if isAbsent(w.Request) {
		return nil, errors.New("control_request missing request")
	}
	var head struct {
		Subtype string `json:"subtype"`
	}
	if err := json.Unmarshal(w.Request, &head); err != nil {
		return nil, fmt.Errorf("control_request request: %w", err)
	}
	if head.Subtype == "" {
		return nil, errors.New("control_request missing subtype")
	}
	return &ControlRequest{RequestID: w.RequestID, Subtype: head.Subtype, Request: w.Request}, nil
}

func decodeControlResponse(line []byte) (*ControlResponse, error) {
	var w struct {
		RequestID string `json:"request_id"`
		Response  *struct {
			Subtype   string          `json:"subtype"`
			RequestID string          `json:"request_id"`
			Response  json.RawMessage `json:"response"`
			Error     string          `json:"error"`
		} `json:"response"`
	}
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, err
	}
	if w.Response == nil {
		return nil, errors.New("control_response missing response")
	}
	resp := &ControlResponse{
		Subtype:   w.Response.Subtype,
		RequestID: w.Response.RequestID,
		Error:     w.Response.Error,
	}
	if !isAbsent(w.Response.Response) {
		resp.Response = w.Response.Response
	}
	if resp.RequestID == "" {
		resp.RequestID = w.RequestID
	}
	if resp.RequestID == "" {
		return nil, errors.New("control_response missing request_id")
	}
	switch resp.Subtype {
	case claudecontract.ControlResponseSuccess, claudecontract.ControlResponseError:
	default:
		return nil, fmt.Errorf("control_response has unknown subtype %q", resp.Subtype)
	}
	return resp, nil
}

func decodeControlCancel(line []byte) (*ControlCancelRequest, error) {
	var w struct {
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, err
	}
	if w.RequestID == "" {
		return nil, errors.New("control_cancel_request missing request_id")
	}
	return &ControlCancelRequest{RequestID: w.RequestID}, nil
}
