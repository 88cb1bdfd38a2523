// Package codec converts schedule requests to and from their durable byte form.
//
// Every schema version the system has ever written stays decodable. Evolution
// is additive: new fields are optional, unknown fields are ignored, and missing
// fields take the defaults documented on each version's record type.
package codec

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/ErlanBelekov/notify-scheduler/internal/domain"
	"github.com/goccy/go-json"
)

var ErrUnsupportedVersion = errors.New("unsupported schema version")

// ErrNotRepresentable is returned when a request cannot be expressed in the
// requested schema version without losing information.
var ErrNotRepresentable = errors.New("request not representable in schema version")

type schema struct {
	encode func(r *domain.ScheduleRequest) ([]byte, error)
	decode func(b []byte) (*domain.ScheduleRequest, error)
}

// Codec is safe for concurrent use. It holds no mutable state after New.
type Codec struct {
	schemas map[int]schema
	current int
}

func New() *Codec {
	return &Codec{
		schemas: map[int]schema{
			1: {encode: encodeV1, decode: decodeV1},
			2: {encode: encodeV2, decode: decodeV2},
		},
		current: domain.CurrentSchemaVersion,
	}
}

// Versions lists every schema version this codec can read and write, ascending.
func (c *Codec) Versions() []int {
	vs := make([]int, 0, len(c.schemas))
	for v := range c.schemas {
		vs = append(vs, v)
	}
	slices.Sort(vs)
	return vs
}

// Encode writes r in r.SchemaVersion, or the current version when it is unset.
func (c *Codec) Encode(r *domain.ScheduleRequest) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("encode: %w", domain.ErrValidation)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("encode request %d: %w", r.ID, err)
	}
	v := r.SchemaVersion
	if v == 0 {
		v = c.current
	}
	s, ok := c.schemas[v]
	if !ok {
		return nil, fmt.Errorf("encode request %d: %w: %d", r.ID, ErrUnsupportedVersion, v)
	}
	b, err := s.encode(r)
	if err != nil {
		return nil, fmt.Errorf("encode request %d as v%d: %w", r.ID, v, err)
	}
	return b, nil
}

// Decode reads bytes produced by any supported version. Every failure wraps
// domain.ErrCorruptRecord.
func (c *Codec) Decode(b []byte) (*domain.ScheduleRequest, error) {
	var head struct {
		SchemaVersion *int `json:"schemaVersion"`
	}
	if err := json.Unmarshal(b, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptRecord, err)
	}
	// Records written before versioning carry no tag.
	v := 1
	if head.SchemaVersion != nil {
		v = *head.SchemaVersion
	}
	s, ok := c.schemas[v]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %d", domain.ErrCorruptRecord, ErrUnsupportedVersion, v)
	}
	r, err := s.decode(b)
	if err != nil {
		return nil, fmt.Errorf("%w: v%d: %v", domain.ErrCorruptRecord, v, err)
	}
	r.SchemaVersion = v
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCorruptRecord, err)
	}
	return r, nil
}

func toMillis(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}

func fromMillis(ms *int64) time.Time {
	if ms == nil {
		return time.Time{}
	}
	return time.UnixMilli(*ms).UTC()
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
