package events

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/kalytamykhailo18-cyber/bookproof-platform-sub008/internal/model"
)

// Codec кодирует событие для внешних получателей.
type Codec interface {
	Marshal(ev model.Event) ([]byte, error)
	ContentType() string
}

// NewCodec возвращает кодек по имени: json (по умолчанию) или cbor.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", "json":
		return JSONCodec{}, nil
	case "cbor":
		return CBORCodec{}, nil
	}
	return nil, fmt.Errorf("unknown event codec %q", name)
}

// JSONCodec кодирует события в JSON.
type JSONCodec struct{}

func (JSONCodec) Marshal(ev model.Event) ([]byte, error) { return json.Marshal(ev) }
func (JSONCodec) ContentType() string                    { return "application/json" }

// CBORCodec кодирует события в CBOR (RFC 8949).
type CBORCodec struct{}

func (CBORCodec) Marshal(ev model.Event) ([]byte, error) { return cbor.Marshal(ev) }
func (CBORCodec) ContentType() string                    { return "application/cbor" }
