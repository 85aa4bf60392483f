package worker

import "fmt"

// QueryKind tags a Query.
type QueryKind int

// Query kinds.
const (
	QueryStop QueryKind = iota
	QueryEval
	QueryLoadMainModule
	QueryLoadModule
	QueryCallEntrypoint
	QueryCallFunction
	QueryGetValue
)

var queryKindNames = map[QueryKind]string{
	QueryStop:           "stop",
	QueryEval:           "eval",
	QueryLoadMainModule: "load_main_module",
	QueryLoadModule:     "load_module",
	QueryCallEntrypoint: "call_entrypoint",
	QueryCallFunction:   "call_function",
	QueryGetValue:       "get_value",
}

func (k QueryKind) String() string {
	if name, ok := queryKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("query(%d)", int(k))
}

// Query is a request for one engine operation or the terminal Stop.
// Only the fields relevant to Kind are set.
type Query struct {
	Kind   QueryKind
	Code   string
	Module Module
	Handle HandleID
	Name   string
	Args   []Value
}

// ResponseKind tags a Response.
type ResponseKind int

// Response kinds.
const (
	ResponseValue ResponseKind = iota
	ResponseHandle
	ResponseAck
	ResponseError
)

var responseKindNames = map[ResponseKind]string{
	ResponseValue:  "value",
	ResponseHandle: "handle",
	ResponseAck:    "ack",
	ResponseError:  "error",
}

func (k ResponseKind) String() string {
	if name, ok := responseKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("response(%d)", int(k))
}

// Response is the dispatcher's reply to exactly one Query.
type Response struct {
	Kind   ResponseKind
	Value  Value
	Handle HandleID
	Err    error
}

func valueResponse(v Value) Response {
	return Response{Kind: ResponseValue, Value: v}
}

func handleResponse(id HandleID) Response {
	return Response{Kind: ResponseHandle, Handle: id}
}

func errorResponse(err error) Response {
	return Response{Kind: ResponseError, Err: err}
}

// expectValue decodes a response for an operation that yields a Value.
func expectValue(op string, r Response) (Value, error) {
	switch r.Kind {
	case ResponseValue:
		return r.Value, nil
	case ResponseError:
		return nil, r.Err
	default:
		return nil, &ProtocolError{Op: op, Got: r.Kind, Want: ResponseValue}
	}
}

// expectHandle decodes a response for an operation that yields a HandleID.
func expectHandle(op string, r Response) (HandleID, error) {
	switch r.Kind {
	case ResponseHandle:
		return r.Handle, nil
	case ResponseError:
		return 0, r.Err
	default:
		return 0, &ProtocolError{Op: op, Got: r.Kind, Want: ResponseHandle}
	}
}
