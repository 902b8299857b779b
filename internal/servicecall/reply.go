package servicecall

import (
	"encoding/json"
	"fmt"
)

// Reply is a decoded services_reply payload.
type Reply struct {
	Tid       string          `json:"tid"`
	Bid       string          `json:"bid"`
	Method    string          `json:"method"`
	Timestamp int64           `json:"timestamp"`
	Result    int             `json:"result"`
	Message   string          `json:"message,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// OK reports whether the device accepted the call.
func (r Reply) OK() bool { return r.Result == 0 }

// ParseReply decodes a reply. The result code is read from "result", then
// from "data.result"; a reply carrying neither counts as success. A failed
// reply's Message describes its code.
func ParseReply(payload []byte) (Reply, error) {
	var raw struct {
		Tid       string          `json:"tid"`
		Bid       string          `json:"bid"`
		Method    string          `json:"method"`
		Timestamp int64           `json:"timestamp"`
		Result    *int            `json:"result"`
		Data      json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Reply{}, fmt.Errorf("servicecall: decoding reply: %w", err)
	}

	r := Reply{
		Tid:       raw.Tid,
		Bid:       raw.Bid,
		Method:    raw.Method,
		Timestamp: raw.Timestamp,
		Data:      raw.Data,
	}
	switch {
	case raw.Result != nil:
		r.Result = *raw.Result
	case len(raw.Data) > 0:
		var inner struct {
			Result *int `json:"result"`
		}
		if json.Unmarshal(raw.Data, &inner) == nil && inner.Result != nil {
			r.Result = *inner.Result
		}
	}
	r.Message = Describe(r.Result)
	return r, nil
}

// Matches reports whether reply answers call: the tids agree, and so do the
// bids when the reply carries one.
func Matches(call Call, reply Reply) bool {
	if call.Tid == "" || reply.Tid != call.Tid {
		return false
	}
	return reply.Bid == "" || reply.Bid == call.Bid
}
