package trace

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Op is the dispatch entry point that produced a record.
type Op uint8

const (
	OpReadInt32 Op = iota
	OpWriteInt32
	OpReadFloat64
)

func (o Op) String() string {
	switch o {
	case OpReadInt32:
		return "readInt32"
	case OpWriteInt32:
		return "writeInt32"
	case OpReadFloat64:
		return "readFloat64"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// ParseOp parses the name printed by Op.String.
func ParseOp(s string) (Op, error) {
	for _, op := range []Op{OpReadInt32, OpWriteInt32, OpReadFloat64} {
		if op.String() == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown op %q", s)
}

// Record is one captured request.
type Record struct {
	Time   time.Time `cbor:"1,keyasint"`
	Port   string    `cbor:"2,keyasint"`
	Op     Op        `cbor:"3,keyasint"`
	Reason int       `cbor:"4,keyasint"`
	Param  string    `cbor:"5,keyasint,omitempty"`
	Addr   int       `cbor:"6,keyasint"`

	// Exactly one of Int and Float is meaningful, depending on Op.
	Int   int32   `cbor:"7,keyasint,omitempty"`
	Float float64 `cbor:"8,keyasint,omitempty"`

	// Status is the parameter library status, 0 on success.
	Status int `cbor:"9,keyasint,omitempty"`
	// Vendor is the library status of the hardware call, if one was made.
	Vendor   int           `cbor:"10,keyasint,omitempty"`
	Duration time.Duration `cbor:"11,keyasint,omitempty"`
	Error    string        `cbor:"12,keyasint,omitempty"`
}

// Value returns the value formatted the way the driver logs it.
func (r Record) Value() string {
	if r.Op == OpReadFloat64 {
		return fmt.Sprintf("%f", r.Float)
	}
	return fmt.Sprintf("%d", r.Int)
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create trace CBOR decoder mode: %v", err))
	}
}

// Encode encodes a record to CBOR bytes.
func Encode(r Record) ([]byte, error) {
	return encMode.Marshal(r)
}

// Decode decodes CBOR bytes into a record.
func Decode(data []byte) (Record, error) {
	var r Record
	if err := decMode.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

// NewEncoder creates a record encoder writing to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder creates a record decoder reading from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
