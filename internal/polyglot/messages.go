package polyglot

import (
	"encoding/json"
	"fmt"
)

// Units of measure used by the nodes of this node server.
const (
	UOMBoolean       = 2
	UOMFahrenheit    = 17
	UOMIndex         = 25
	UOMInchesPerHour = 46
	UOMMilesPerHour  = 48
	UOMPercent       = 51
	UOMDegrees       = 76
	UOMInchesHg      = 117
)

// Outgoing topic kinds, published on udi/pg3/ns/<kind>/<id>.
const (
	KindStatus  = "status"
	KindCommand = "command"
	KindCustom  = "custom"
)

// Driver is one attribute slot of a node.
type Driver struct {
	Driver string `json:"driver"`
	Value  string `json:"value"`
	UOM    int    `json:"uom"`
	Text   string `json:"text,omitempty"`
}

// NodeDef describes a node for addnode and for the node list in config messages.
type NodeDef struct {
	Address     string   `json:"address"`
	Name        string   `json:"name"`
	NodeDefID   string   `json:"nodeDefId"`
	PrimaryNode string   `json:"primaryNode"`
	Hint        string   `json:"hint,omitempty"`
	Drivers     []Driver `json:"drivers,omitempty"`
}

// Command is a node command sent from the hub (e.g. QUERY, DISCOVER).
type Command struct {
	Address string          `json:"address"`
	Cmd     string          `json:"cmd"`
	Value   json.RawMessage `json:"value,omitempty"`
	UOM     json.RawMessage `json:"uom,omitempty"`
}

// Config is the node server configuration pushed by Polyglot on start.
type Config struct {
	ShortPoll int       `json:"shortPoll"`
	LongPoll  int       `json:"longPoll"`
	Nodes     []NodeDef `json:"nodes"`
}

// PollKind distinguishes short and long polls.
type PollKind int

const (
	ShortPoll PollKind = iota + 1
	LongPoll
)

func (k PollKind) String() string {
	if k == LongPoll {
		return "long"
	}
	return "short"
}

type driverSet struct {
	Address string `json:"address"`
	Driver
}

type keyValue struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// decodeParams accepts customparams values as strings or any other JSON value,
// the latter rendered back to its JSON text.
func decodeParams(raw json.RawMessage) (map[string]string, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("decode customparams: %w", err)
	}
	out := make(map[string]string, len(generic))
	for k, v := range generic {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		if string(v) == "null" {
			out[k] = ""
			continue
		}
		out[k] = string(v)
	}
	return out, nil
}
