package codec

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/callsignal/internal/domain"
	"github.com/gorilla/websocket"
)

const JSONName = "json"

// JSON writes commands as text frames.
type JSON struct{}

func (JSON) Name() string { return JSONName }

func (JSON) MessageType() int { return websocket.TextMessage }

func (JSON) Encode(cmd domain.Command) ([]byte, error) {
	w, err := toWire(cmd)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func (JSON) Decode(data []byte) (domain.Command, error) {
	var w wireCommand
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: bad json: %v", domain.ErrValidation, err)
	}
	return w.command()
}
