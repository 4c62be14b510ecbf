package stream

import (
	"fmt"
	"time"
)

// Key identifies one stream endpoint: a client connection plus the stream
// index that connection opened.
type Key struct {
	ConnectionID string `json:"connection_id"`
	Index        int    `json:"index"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d", k.ConnectionID, k.Index)
}

// Outcome of one delivery attempt.
type Outcome int

const (
	Delivered Outcome = iota
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result reports what happened to one frame sent to one endpoint.
// A Failed result always means the endpoint was removed.
type Result struct {
	Key      Key
	Seq      uint64
	Outcome  Outcome
	Err      error
	Duration time.Duration
}

// Stats contains registry statistics
type Stats struct {
	Subscribers int    `json:"subscribers"`
	Broadcasts  uint64 `json:"broadcasts"`
	Delivered   uint64 `json:"delivered"`
	Failed      uint64 `json:"failed"`
	Dropped     uint64 `json:"dropped"` // overwritten before the sender picked them up
}
