// Package protocol implements the framed wire format spoken between the
// campus server and its clients: a 4-byte big-endian length prefix
// followed by one UTF-8 JSON message.
package protocol

import (
	"encoding/json"
	"time"
)

// Message types.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
)

// Request kinds.
const (
	KindLogin          = "login"
	KindLogout         = "logout"
	KindChangePassword = "change_password"
	KindListCourses    = "list_courses"
	KindListSections   = "list_sections"
	KindListMySchedule = "list_my_schedule"
	KindListMyGrades   = "list_my_grades"
	KindEnroll         = "enroll"
	KindDrop           = "drop"
	KindRoster         = "roster"
	KindRecordGrade    = "record_grade"
	KindFinalizeTerm   = "finalize_term"
	KindPlaceBid       = "place_bid"
	KindModifyBid      = "modify_bid"
	KindCancelBid      = "cancel_bid"
	KindBidStatus      = "bid_status"
	KindSettleBids     = "settle_bids"
	KindMyPoints       = "my_points"
	KindAdvise         = "advise"
	KindPing           = "ping"
)

// Response statuses.
const (
	StatusSuccess      = "success"
	StatusError        = "error"
	StatusUnauthorized = "unauthorized"
)

// Wire error kinds. Business rejections keep the session open; protocol
// violations do not get a response at all, the connection just closes.
const (
	ErrKindBadRequest      = "bad_request"
	ErrKindValidation      = "validation"
	ErrKindUnauthenticated = "unauthenticated"
	ErrKindForbidden       = "forbidden"
	ErrKindNotFound        = "not_found"
	ErrKindRejected        = "rejected"
	ErrKindInternal        = "internal"
)

// Message is one framed request or response.
type Message struct {
	Type          string          `json:"type"`
	Kind          string          `json:"kind"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Status        string          `json:"status,omitempty"`
	Error         *ErrorPayload   `json:"error,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// ErrorPayload describes a failed request.
type ErrorPayload struct {
	Kind    string       `json:"kind"`
	Message string       `json:"message"`
	Fields  []FieldError `json:"fields,omitempty"`
}

// FieldError points a validation failure at one payload field.
type FieldError struct {
	Field string `json:"field"`
	Error string `json:"error"`
}

// IsRequest reports whether the message is a well-formed request.
func (m Message) IsRequest() bool {
	return m.Type == TypeRequest && m.Kind != ""
}

// NewRequest builds a request message; payload may be nil.
func NewRequest(kind, correlationID string, payload interface{}) (Message, error) {
	msg := Message{
		Type:          TypeRequest,
		Kind:          kind,
		CorrelationID: correlationID,
		Timestamp:     time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Payload = raw
	}
	return msg, nil
}

// NewResponse builds a success response mirroring the request's kind and
// correlation id.
func NewResponse(req Message, payload interface{}) (Message, error) {
	msg := Message{
		Type:          TypeResponse,
		Kind:          req.Kind,
		CorrelationID: req.CorrelationID,
		Status:        StatusSuccess,
		Timestamp:     time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		msg.Payload = raw
	}
	return msg, nil
}

// NewErrorResponse builds a failure response.
func NewErrorResponse(req Message, errKind, errMsg string, fields ...FieldError) Message {
	status := StatusError
	if errKind == ErrKindUnauthenticated || errKind == ErrKindForbidden {
		status = StatusUnauthorized
	}
	return Message{
		Type:          TypeResponse,
		Kind:          req.Kind,
		CorrelationID: req.CorrelationID,
		Status:        status,
		Error:         &ErrorPayload{Kind: errKind, Message: errMsg, Fields: fields},
		Timestamp:     time.Now().UTC(),
	}
}
