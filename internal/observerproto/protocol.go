// Package observerproto defines the messages of the live record feed.
package observerproto

import "encoding/json"

// Version is the feed protocol version, independent of the log record format.
const Version = "1"

const (
	TypeSubscribe = "SUBSCRIBE"
	TypeHello     = "HELLO"
	TypeRecord    = "RECORD"
	TypeLag       = "LAG"
)

// Client -> Server. First message on the feed connection; may be re-sent to
// change the kind filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Kinds filters by record type ("item", "item_remove"). Empty means all.
	Kinds []string `json:"kinds,omitempty"`
	// Backlog asks for up to this many recent records before live ones.
	Backlog int `json:"backlog,omitempty"`
}

// Server -> Client, once per connection.
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	World           string `json:"world"`
	Period          string `json:"period"`
	FrameCount      uint64 `json:"frame_count"`
}

// Server -> Client, one per log line. Line is the record exactly as written
// to the period log.
type RecordMsg struct {
	Type string          `json:"type"`
	Seq  uint64          `json:"seq"`
	Kind string          `json:"kind"`
	Line json.RawMessage `json:"line"`
}

// Server -> Client when records were dropped for a slow reader.
type LagMsg struct {
	Type    string `json:"type"`
	Dropped uint64 `json:"dropped"`
}

// HTTP response for GET /v1/feed/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string  `json:"protocol_version"`
	World           string  `json:"world"`
	WorldSize       float64 `json:"world_size"`
	Period          string  `json:"period"`
	Running         bool    `json:"running"`
	FrameCount      uint64  `json:"frame_count"`
	LastSeq         uint64  `json:"last_seq"`
	Subscribers     int     `json:"subscribers"`
}
