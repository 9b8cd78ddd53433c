package base

// Timestamp is either integer Unix seconds or an event-time value with nanosecond precision,
// chosen by the caller of Append. It is opaque to the buffer engine and forwarded verbatim to
// the record encoder.
type Timestamp struct {
	Seconds     int64
	Nanoseconds int32
	HasNanos    bool // true if this is an event-time value (Seconds, Nanoseconds); false if plain Unix seconds
}

// NewUnixTimestamp creates a plain integer-seconds Timestamp
func NewUnixTimestamp(seconds int64) Timestamp {
	return Timestamp{Seconds: seconds}
}

// NewEventTime creates a compound event-time Timestamp with nanosecond precision
func NewEventTime(seconds int64, nanoseconds int32) Timestamp {
	return Timestamp{Seconds: seconds, Nanoseconds: nanoseconds, HasNanos: true}
}

// Record is a single tagged, timestamped payload appended by a producer
type Record struct {
	Tag       string
	Timestamp Timestamp
	Fields    map[string]interface{}
}

// Encoder turns a Record's Fields (and Timestamp) into the binary, self-delimiting per-record
// encoding that is concatenated into a chunk. It is an external collaborator: this engine only
// calls it and appends the resulting bytes.
//
// EncodeRecord may also accept a pre-encoded field-map (raw msgpack bytes pasted verbatim) via
// EncodeEncodedRecord, used by Buffer.AppendEncoded to bypass field encoding.
type Encoder interface {
	EncodeRecord(ts Timestamp, fields map[string]interface{}) ([]byte, error)
	EncodeEncodedRecord(ts Timestamp, encodedFields []byte) ([]byte, error)
}
