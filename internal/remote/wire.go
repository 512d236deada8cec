// Package remote implements the websocket client for the hosted store,
// along with the wire envelopes it shares with the server. Conditional
// transactions run client-side as read-version / compare-and-swap rounds,
// so the transaction function never leaves the client.
package remote

// Ops a client may request.
const (
	OpRead            = "read"
	OpReadAll         = "readall"
	OpWrite           = "write"
	OpWriteMulti      = "writemulti"
	OpTxGet           = "txget"
	OpTxPut           = "txput"
	OpSubscribe       = "subscribe"
	OpSubscribePrefix = "subprefix"
	OpUnsubscribe     = "unsubscribe"
)

// Request is the client-to-server envelope. ID is chosen by the client and
// echoed on the matching Response. Sub identifies a subscription and is
// also client-chosen, so events can be routed before the ack arrives.
type Request struct {
	ID      int64             `json:"id"`
	Op      string            `json:"op"`
	Key     string            `json:"key,omitempty"`
	Prefix  string            `json:"prefix,omitempty"`
	Value   []byte            `json:"value,omitempty"`
	Updates map[string][]byte `json:"updates,omitempty"`
	Version uint64            `json:"version,omitempty"`
	Sub     int64             `json:"sub,omitempty"`
}

// Response is the server-to-client envelope. Frames with ID set answer a
// Request; frames with only Sub set carry subscription events. A nil Value
// on a read or event means the key does not exist.
type Response struct {
	ID        int64             `json:"id,omitempty"`
	Sub       int64             `json:"sub,omitempty"`
	Value     []byte            `json:"value,omitempty"`
	Values    map[string][]byte `json:"values,omitempty"`
	Version   uint64            `json:"version,omitempty"`
	Committed bool              `json:"committed,omitempty"`
	Error     string            `json:"error,omitempty"`
}
