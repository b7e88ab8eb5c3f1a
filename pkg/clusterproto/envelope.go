// Package clusterproto is the edge↔hub channel (§6): a single
// persistent authenticated connection carrying bidirectional
// request/response and notification messages. It reuses the L0 frame
// codec's "u32 length then bytes" shape (pkg/mumbleproto.EncodeFrame/
// DecodeFrame use u16 kind + u32 length; here there is no kind, only
// one envelope type, so the length-prefix write/read is reimplemented
// directly rather than smuggling JSON through a Mumble message kind)
// so both the client protocol and the cluster channel share one
// "header then body, one write" idiom (teacher's `sendMessage`
// pattern in `cmd/grumble/client.go`).
package clusterproto

import "encoding/json"

// Method names the full surface enumerated in spec.md §6.
type Method string

const (
	MethodEdgeRegister           Method = "edge.register"
	MethodEdgeHeartbeat          Method = "edge.heartbeat"
	MethodEdgeAllocateSessionID  Method = "edge.allocateSessionId"
	MethodEdgeFullSync           Method = "edge.fullSync"
	MethodEdgeGetChannels        Method = "edge.getChannels"
	MethodEdgeGetACLs            Method = "edge.getACLs"
	MethodEdgeSaveChannel        Method = "edge.saveChannel"
	MethodEdgeReportSession      Method = "edge.reportSession"
	MethodEdgeHandleACL          Method = "edge.handleACL"
	MethodEdgeHandleBanList      Method = "edge.handleBanList"

	MethodHubHandleUserState    Method = "hub.handleUserState"
	MethodHubHandleUserRemove   Method = "hub.handleUserRemove"
	MethodHubHandleChannelState Method = "hub.handleChannelState"
	MethodHubHandleChannelRemove Method = "hub.handleChannelRemove"
	MethodHubHandleTextMessage  Method = "hub.handleTextMessage"

	MethodHubUserJoined            Method = "hub.userJoined"
	MethodHubUserLeft              Method = "hub.userLeft"
	MethodHubUserStateBroadcast    Method = "hub.userStateBroadcast"
	MethodHubUserRemoveBroadcast   Method = "hub.userRemoveBroadcast"
	MethodHubChannelStateBroadcast Method = "hub.channelStateBroadcast"
	MethodHubChannelRemoveBroadcast Method = "hub.channelRemoveBroadcast"
	MethodHubTextMessageBroadcast  Method = "hub.textMessageBroadcast"

	MethodEdgePeerJoined     Method = "edge.peerJoined"
	MethodEdgePeerLeft       Method = "edge.peerLeft"
	MethodEdgeACLUpdated     Method = "edge.aclUpdated"
	MethodEdgeBanListUpdated Method = "edge.banListUpdated"

	// MethodHubAuthenticate resolves a connecting client's credentials
	// against the hub's authoritative user store (§4.2 step 6-7); not
	// itself named in the method list, but required by it since the
	// check has to cross the wire like everything else the edge can't
	// decide alone.
	MethodHubAuthenticate Method = "hub.authenticate"

	// MethodHubClearListeningChannels implements the
	// ClearListeningChannels(session) hub-side operation (§9 Open
	// Questions decision 2): the hub, not the edge, computes the
	// removed set under its own lock so a racy client-supplied
	// "everything I'm listening to" snapshot can never diverge from
	// what the hub actually tracked.
	MethodHubClearListeningChannels Method = "hub.clearListeningChannels"
)

// Envelope is the single message shape carried over the cluster
// channel: a request has Method and ID set; a response has only ID,
// and either Result or Error; a notification has Method but no ID.
type Envelope struct {
	Method Method          `json:"method,omitempty"`
	ID     *uint64         `json:"id,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *EnvelopeError  `json:"error,omitempty"`
}

// EnvelopeError mirrors the "synthetic permission denial" shape §7
// describes for hub-unavailable mutating operations, generalized to
// any cluster-channel failure.
type EnvelopeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *EnvelopeError) Error() string {
	return e.Message
}

// IsRequest reports whether env is a request awaiting a response.
func (env *Envelope) IsRequest() bool {
	return env.ID != nil && env.Method != ""
}

// IsNotify reports whether env is a fire-and-forget notification.
func (env *Envelope) IsNotify() bool {
	return env.ID == nil && env.Method != ""
}

// IsResponse reports whether env is a reply to an earlier request.
func (env *Envelope) IsResponse() bool {
	return env.ID != nil && env.Method == ""
}

// NewRequest builds a request envelope, marshaling params to JSON.
func NewRequest(id uint64, method Method, params interface{}) (*Envelope, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{Method: method, ID: &id, Params: raw}, nil
}

// NewNotify builds a notification envelope (no ID, no response
// expected), used for the hub.*Broadcast and edge.peer* methods.
func NewNotify(method Method, params interface{}) (*Envelope, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	return &Envelope{Method: method, Params: raw}, nil
}

// NewResult builds a success response envelope for request id.
func NewResult(id uint64, result interface{}) (*Envelope, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Envelope{ID: &id, Result: raw}, nil
}

// NewError builds a failure response envelope for request id.
func NewError(id uint64, code int, message string) *Envelope {
	return &Envelope{ID: &id, Error: &EnvelopeError{Code: code, Message: message}}
}
