package encoder

import (
	"testing"

	"github.com/relex/eventbuf/base"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v4"
)

func TestEncodeRecordRoundTrip(t *testing.T) {
	enc := New(256)
	data, err := enc.EncodeRecord(base.NewUnixTimestamp(1700000000), map[string]interface{}{"msg": "hello", "level": "info"})
	require.NoError(t, err)

	var decoded []interface{}
	require.NoError(t, msgpack.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.EqualValues(t, 1700000000, decoded[0])

	fields, ok := decoded[1].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "hello", fields["msg"])
	assert.Equal(t, "info", fields["level"])
}

func TestEncodeRecordEventTime(t *testing.T) {
	enc := New(256)
	data, err := enc.EncodeRecord(base.NewEventTime(1700000000, 500), map[string]interface{}{"a": 1})
	require.NoError(t, err)

	var decoded []interface{}
	require.NoError(t, msgpack.Unmarshal(data, &decoded))
	ts, ok := decoded[0].(*eventTimeValue)
	require.True(t, ok, "event-time timestamp must decode as a registered fixext8 EventTime, not a plain array")
	assert.EqualValues(t, 1700000000, ts.Seconds)
	assert.EqualValues(t, 500, ts.Nanoseconds)
}

func TestEncodeEncodedRecordSplicesRawBytes(t *testing.T) {
	enc := New(256)
	rawFields, merr := msgpack.Marshal(map[string]interface{}{"pre": "encoded"})
	require.NoError(t, merr)

	data, err := enc.EncodeEncodedRecord(base.NewUnixTimestamp(42), rawFields)
	require.NoError(t, err)

	var decoded []interface{}
	require.NoError(t, msgpack.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.EqualValues(t, 42, decoded[0])
	fields, ok := decoded[1].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "encoded", fields["pre"])
}
