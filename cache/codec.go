package cache

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
	"github.com/ruteri/vault-session-broker/cryptoutils"
)

// ErrCorruptRecord is returned for records that cannot be decoded.
var ErrCorruptRecord = errors.New("corrupt cache record")

const (
	flagCompressed byte = 1 << iota
	flagSealed
)

type record struct {
	Created int64           `json:"created"`
	Payload json.RawMessage `json:"payload"`
}

// Codec encodes cache records. A Codec is safe for concurrent use.
// Records carry a one byte header describing their encoding, so a codec
// can read records written with other settings as long as it holds the
// sealing key.
type Codec struct {
	compress bool
	key      []byte
	enc      *zstd.Encoder
	dec      *zstd.Decoder
}

// NewCodec returns a codec. A nil sealKey disables sealing.
func NewCodec(compress bool, sealKey []byte) (*Codec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &Codec{compress: compress, key: sealKey, enc: enc, dec: dec}, nil
}

func (c *Codec) Encode(created int64, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache payload: %w", err)
	}
	body, err := json.Marshal(record{Created: created, Payload: raw})
	if err != nil {
		return nil, fmt.Errorf("failed to encode cache record: %w", err)
	}

	var flags byte
	if c.compress {
		body = c.enc.EncodeAll(body, nil)
		flags |= flagCompressed
	}
	if c.key != nil {
		body, err = cryptoutils.Seal(c.key, body)
		if err != nil {
			return nil, err
		}
		flags |= flagSealed
	}
	return append([]byte{flags}, body...), nil
}

func (c *Codec) decode(data []byte) (*record, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("%w: empty", ErrCorruptRecord)
	}
	flags, body := data[0], data[1:]

	var err error
	if flags&flagSealed != 0 {
		if c.key == nil {
			return nil, fmt.Errorf("%w: sealed record without key", ErrCorruptRecord)
		}
		if body, err = cryptoutils.Open(c.key, body); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
	}
	if flags&flagCompressed != 0 {
		if body, err = c.dec.DecodeAll(body, nil); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
	}

	var rec record
	if err := json.Unmarshal(body, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return &rec, nil
}

// Decode unpacks data into out and returns the record creation time.
func (c *Codec) Decode(data []byte, out any) (int64, error) {
	rec, err := c.decode(data)
	if err != nil {
		return 0, err
	}
	if err := json.Unmarshal(rec.Payload, out); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return rec.Created, nil
}
