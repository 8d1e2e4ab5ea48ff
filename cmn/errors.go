package cmn

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"net/http"
)

// FamilyError is implemented by every error variant rendered at the
// edge of a service handler: it knows its own HTTP status and how to
// serialize itself in its wire family's native shape. Handlers return
// plain Go errors internally (often wrapped with github.com/pkg/errors);
// only the middleware/handler edge type-switches on FamilyError.
type FamilyError interface {
	error
	StatusCode() int
	Render() (contentType string, body []byte)
}

// ValidationError is a family-agnostic marker for malformed input;
// per-family handlers wrap it into a JSONError/XMLError/S3Error before
// writing the response.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// ConditionalCheckFailedError marks a failed condition expression on
// PutItem/UpdateItem/DeleteItem or a transaction member.
type ConditionalCheckFailedError struct{ Msg string }

func (e *ConditionalCheckFailedError) Error() string { return e.Msg }

// NotFoundError marks a resource lookup miss (table, item key present
// but no item, bucket, queue, topic, ...).
type NotFoundError struct{ Msg string }

func (e *NotFoundError) Error() string { return e.Msg }

// ExistsError marks a create-duplicate (CreateTable, CreateBucket, ...).
type ExistsError struct{ Msg string }

func (e *ExistsError) Error() string { return e.Msg }

// JSONError is the JSON-1.1 envelope: {"__type": "...", "message": "..."}.
type JSONError struct {
	Type    string
	Message string
	Status  int
}

func (e *JSONError) Error() string    { return fmt.Sprintf("%s: %s", e.Type, e.Message) }
func (e *JSONError) StatusCode() int  { return e.Status }
func (e *JSONError) Render() (string, []byte) {
	body, _ := json.Marshal(struct {
		Type    string `json:"__type"`
		Message string `json:"message"`
	}{e.Type, e.Message})
	return "application/x-amz-json-1.1", body
}

// XMLError is the query/REST-protocol ErrorResponse envelope.
type XMLError struct {
	Code      string
	Message   string
	Status    int
	RequestID string
}

func (e *XMLError) Error() string   { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func (e *XMLError) StatusCode() int { return e.Status }
func (e *XMLError) Render() (string, []byte) {
	type errBody struct {
		Type    string `xml:"Type"`
		Code    string `xml:"Code"`
		Message string `xml:"Message"`
	}
	type envelope struct {
		XMLName   xml.Name `xml:"ErrorResponse"`
		Error     errBody  `xml:"Error"`
		RequestID string   `xml:"RequestId"`
	}
	env := envelope{
		Error:     errBody{Type: "Sender", Code: e.Code, Message: e.Message},
		RequestID: e.RequestID,
	}
	body, _ := xml.Marshal(env)
	return "text/xml", append([]byte(xml.Header), body...)
}

// S3Error is S3's own (non-ErrorResponse-wrapped) Error envelope.
type S3Error struct {
	Code      string
	Message   string
	Resource  string
	RequestID string
	Status    int
}

func (e *S3Error) Error() string   { return fmt.Sprintf("%s: %s", e.Code, e.Message) }
func (e *S3Error) StatusCode() int { return e.Status }
func (e *S3Error) Render() (string, []byte) {
	type envelope struct {
		XMLName   xml.Name `xml:"Error"`
		Code      string   `xml:"Code"`
		Message   string   `xml:"Message"`
		Resource  string   `xml:"Resource"`
		RequestID string   `xml:"RequestId"`
	}
	body, _ := xml.Marshal(envelope{Code: e.Code, Message: e.Message, Resource: e.Resource, RequestID: e.RequestID})
	return "application/xml", append([]byte(xml.Header), body...)
}

// Constructors for the taxonomy in spec.md §7. Family is chosen by the
// caller (handler knows its own wire shape); these are thin enough that
// handlers usually call them directly rather than through a kind enum.

func NewJSONError(typ, msg string, status int) *JSONError {
	return &JSONError{Type: typ, Message: msg, Status: status}
}

func NewXMLError(code, msg string, status int, requestID string) *XMLError {
	return &XMLError{Code: code, Message: msg, Status: status, RequestID: requestID}
}

func NewS3Error(code, msg, resource, requestID string, status int) *S3Error {
	return &S3Error{Code: code, Message: msg, Resource: resource, RequestID: requestID, Status: status}
}

// ConditionalCheckFailed renders the JSON-1.1 shape shared by every JSON
// family (DynamoDB-shaped kv engine, queue, fan-out rules, ...).
func ConditionalCheckFailed(msg string) *JSONError {
	return NewJSONError("ConditionalCheckFailedException", msg, http.StatusBadRequest)
}

func AccessDeniedJSON(msg string) *JSONError {
	return NewJSONError("AccessDeniedException", msg, http.StatusBadRequest)
}

func AccessDeniedXML(requestID string) *XMLError {
	return NewXMLError("AccessDenied", "Access Denied", http.StatusForbidden, requestID)
}

func AccessDeniedS3(resource, requestID string) *S3Error {
	return NewS3Error("AccessDenied", "Access Denied", resource, requestID, http.StatusForbidden)
}

func InternalErrorJSON(msg string) *JSONError {
	return NewJSONError("InternalServerError", msg, http.StatusInternalServerError)
}
