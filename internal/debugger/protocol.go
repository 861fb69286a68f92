package debugger

import "encoding/json"

// decodeJSON unmarshals a raw CDP result payload, treating an empty
// payload as a no-op (some CDP methods, e.g. Debugger.resume, return
// {} with no fields this client cares about).
func decodeJSON(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// outboundFrame is a single CDP request: a WebSocket frame carrying a
// JSON message of the form {id?, method?, params?, result?, error?} per
// the V8 Inspector Protocol.
type outboundFrame struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// inboundFrame is either a response to a request this client sent
// (Result/Error present, ID matches a pending request) or an event
// (Method present, ID absent). The client must tolerate unknown fields,
// so every payload is decoded lazily via RawMessage.
type inboundFrame struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *protocolError  `json:"error"`
}

func (f *inboundFrame) isResponse() bool { return f.ID != 0 }

type protocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Location is a CDP script location: script id plus 0-based line/column.
type Location struct {
	ScriptID     string `json:"scriptId"`
	LineNumber   int    `json:"lineNumber"`
	ColumnNumber int    `json:"columnNumber,omitempty"`
}

// CallFrame is one entry of Debugger.paused's callFrames array.
type CallFrame struct {
	CallFrameID  string     `json:"callFrameId"`
	FunctionName string     `json:"functionName"`
	Location     Location   `json:"location"`
	ScopeChain   []Scope    `json:"scopeChain"`
	This         RemoteObject `json:"this"`
}

// Scope is one entry of a call frame's scope chain.
type Scope struct {
	Type   string       `json:"type"`
	Object RemoteObject `json:"object"`
	Name   string       `json:"name,omitempty"`
}

// RemoteObject mirrors CDP's Runtime.RemoteObject. Objects carrying an
// ObjectID are never auto-expanded — the guest fetches properties
// explicitly via get_properties.
type RemoteObject struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype,omitempty"`
	ClassName   string          `json:"className,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
	Description string          `json:"description,omitempty"`
	ObjectID    string          `json:"objectId,omitempty"`
}

// PropertyDescriptor is one entry returned by Runtime.getProperties.
type PropertyDescriptor struct {
	Name         string       `json:"name"`
	Value        RemoteObject `json:"value"`
	Writable     bool         `json:"writable"`
	Enumerable   bool         `json:"enumerable"`
	Configurable bool         `json:"configurable"`
	OwnProperty  bool         `json:"isOwn"`
}

// PausedEvent is the fanout payload for Debugger.paused.
type PausedEvent struct {
	Reason          string          `json:"reason"`
	CallFrames      []CallFrame     `json:"callFrames"`
	HitBreakpoints  []string        `json:"hitBreakpoints"`
	Data            json.RawMessage `json:"data,omitempty"`
	AsyncStackTrace json.RawMessage `json:"asyncStackTrace,omitempty"`
}

// ScriptEvent is the fanout payload for Debugger.scriptParsed.
type ScriptEvent struct {
	ScriptID  string `json:"scriptId"`
	URL       string `json:"url"`
	Hash      string `json:"hash"`
	StartLine int    `json:"startLine"`
	EndLine   int    `json:"endLine"`
	ContextID int    `json:"executionContextId"`
}

// ScriptRecord is a parsed-script record: immutable once first
// observed, keyed by CDP script id.
type ScriptRecord struct {
	ScriptID  string
	URL       string
	Hash      string
	StartLine int
	EndLine   int
	ContextID int
}

type scriptParsedParams struct {
	ScriptID            string `json:"scriptId"`
	URL                 string `json:"url"`
	Hash                string `json:"hash"`
	StartLine           int    `json:"startLine"`
	EndLine             int    `json:"endLine"`
	ExecutionContextID  int    `json:"executionContextId"`
}

type breakpointResolvedParams struct {
	BreakpointID string   `json:"breakpointId"`
	Location     Location `json:"location"`
}

type setBreakpointByURLResult struct {
	BreakpointID string     `json:"breakpointId"`
	Locations    []Location `json:"locations"`
}

type evaluateResult struct {
	Result           RemoteObject    `json:"result"`
	ExceptionDetails json.RawMessage `json:"exceptionDetails,omitempty"`
}

type getPropertiesResult struct {
	Result []PropertyDescriptor `json:"result"`
}
