package codec

import (
	"fmt"
	"reflect"

	"github.com/dkeye/callsignal/internal/domain"
	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
)

const CBORName = "cbor"

// encMode uses Core Deterministic Encoding so equal commands produce equal
// bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// CBOR writes commands as binary frames. Field names follow the json tags of
// the wire struct, so both codecs share one schema.
type CBOR struct{}

func (CBOR) Name() string { return CBORName }

func (CBOR) MessageType() int { return websocket.BinaryMessage }

func (CBOR) Encode(cmd domain.Command) ([]byte, error) {
	w, err := toWire(cmd)
	if err != nil {
		return nil, err
	}
	return encMode.Marshal(w)
}

func (CBOR) Decode(data []byte) (domain.Command, error) {
	var w wireCommand
	if err := decMode.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: bad cbor: %v", domain.ErrValidation, err)
	}
	return w.command()
}
