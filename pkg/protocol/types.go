package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// JSONRPCVersion is stamped on every outgoing request.
const JSONRPCVersion = "2.0"

// Methods exposed by the worker.
const (
	MethodPing                       = "v1/HealthManager/Ping"
	MethodForceShutdown              = "v1/HealthManager/ForceShutdown"
	MethodListCredentials            = "v1/CredentialManager/ListCredentials"
	MethodDeleteCredential           = "v1/CredentialManager/DeleteCredential"
	MethodRefreshCredential          = "v1/CredentialManager/RefreshCredential"
	MethodGenerateCredentialTemplate = "v1/CredentialManager/GenerateCredentialTemplate"
	MethodSetCredential              = "v1/CredentialManager/SetCredential"
	MethodDisplayExtensionInfo       = "v1/EvaluationManager/DisplayExtensionInfo"
	MethodRunTestBattery             = "v1/EvaluationManager/RunTestBattery"
	MethodTestConnection             = "v1/EvaluationManager/TestConnection"
)

// Params is the single parameter object carried in every request.
type Params struct {
	SessionID          string          `json:"SessionId"`
	PathToConnector    string          `json:"PathToConnector,omitempty"`
	PathToQueryFile    string          `json:"PathToQueryFile,omitempty"`
	QueryFileContent   string          `json:"QueryFileContent,omitempty"`
	WorkingDirectory   string          `json:"WorkingDirectory,omitempty"`
	AuthenticationKind string          `json:"AuthenticationKind,omitempty"`
	DataSourceKind     string          `json:"DataSourceKind,omitempty"`
	DataSourcePath     string          `json:"DataSourcePath,omitempty"`
	InputTemplate      json.RawMessage `json:"InputTemplateString,omitempty"`
	AllCredentials     bool            `json:"AllCredentials,omitempty"`
}

// Request is the outgoing envelope: params is always a one-element array.
type Request struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      string    `json:"id"`
	Method  string    `json:"method"`
	Params  []*Params `json:"params"`
}

// NewRequest builds a request envelope for method.
func NewRequest(id, method string, params *Params) *Request {
	if params == nil {
		params = &Params{}
	}
	return &Request{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Method:  method,
		Params:  []*Params{params},
	}
}

// Encode serializes the request as UTF-8 JSON without a trailing newline.
func (r *Request) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode request %s: %w", r.Method, err)
	}
	return data, nil
}

// ID is a correlation id. The worker echoes ids as strings, but numeric ids
// are accepted as well.
type ID string

// UnmarshalJSON accepts string, number and null ids.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid id %s: %w", data, err)
	}
	*id = ID(n.String())
	return nil
}

// Status is the worker's result status.
type Status int

const (
	StatusAcknowledged Status = 0
	StatusSuccess      Status = 1
	StatusFailure      Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusAcknowledged:
		return "Acknowledged"
	case StatusSuccess:
		return "Success"
	case StatusFailure:
		return "Failure"
	default:
		return "Status(" + strconv.Itoa(int(s)) + ")"
	}
}

// UnmarshalJSON accepts both the numeric and the named form.
func (s *Status) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		switch strings.ToLower(name) {
		case "acknowledged":
			*s = StatusAcknowledged
		case "success":
			*s = StatusSuccess
		case "failure":
			*s = StatusFailure
		default:
			return fmt.Errorf("unknown status %q", name)
		}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid status %s: %w", data, err)
	}
	*s = Status(n)
	return nil
}

// Result is the worker's result object.
type Result struct {
	Status         Status          `json:"Status"`
	Payload        json.RawMessage `json:"Payload,omitempty"`
	InnerException json.RawMessage `json:"InnerException,omitempty"`
}

// ErrorObject is a JSON-RPC error body.
type ErrorObject struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Response is any incoming message: a response to a request (ID set) or a
// notification pushed by the worker (ID empty, Method set).
type Response struct {
	ID     ID              `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ErrorObject    `json:"error,omitempty"`
}

// IsNotification reports whether the message is an unsolicited notification.
func (r *Response) IsNotification() bool {
	return r.ID == "" && r.Method != ""
}

// DecodeResponse parses one framed message.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	return &resp, nil
}

// Outcome extracts the result object. A result without a Status field is a
// plain JSON-RPC result and counts as Success with the whole value as payload.
func (r *Response) Outcome() (*Result, error) {
	raw := bytes.TrimSpace(r.Result)
	if len(raw) == 0 || string(raw) == "null" {
		return &Result{Status: StatusSuccess}, nil
	}
	if raw[0] != '{' {
		return &Result{Status: StatusSuccess, Payload: raw}, nil
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if _, ok := probe["Status"]; !ok {
		return &Result{Status: StatusSuccess, Payload: raw}, nil
	}

	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}
