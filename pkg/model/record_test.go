package model

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() Record {
	return Record{
		Class:  "Task",
		Key:    "2HFyEoYrXGVek9iDv37gpWZ41aB",
		Schema: 1,
		Fields: []Field{
			{Name: "text", Value: `"Do something"`},
			{Name: "done", Value: `false`},
		},
	}
}

func TestEncodeRecordDeterminism(t *testing.T) {
	r1 := testRecord()
	b1, err := EncodeRecord(r1)
	require.NoError(t, err)

	// Same state, different assignment order: identical bytes.
	r2 := testRecord()
	r2.Fields[0], r2.Fields[1] = r2.Fields[1], r2.Fields[0]
	b2, err := EncodeRecord(r2)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	b3, err := EncodeRecord(testRecord())
	require.NoError(t, err)
	assert.Equal(t, b1, b3)
}

func TestEncodeRecordLayout(t *testing.T) {
	b, err := EncodeRecord(testRecord())
	require.NoError(t, err)
	assert.Equal(t,
		"{\"class\":\"Task\",\"key\":\"2HFyEoYrXGVek9iDv37gpWZ41aB\",\"schema\":1}\n"+
			"done=false\n"+
			"text=\"Do something\"\n",
		string(b))
}

func TestRecordRoundTrip(t *testing.T) {
	want := testRecord()
	b, err := EncodeRecord(want)
	require.NoError(t, err)

	got, err := DecodeRecord(b)
	require.NoError(t, err)

	want.Normalize()
	assert.Empty(t, cmp.Diff(want, got, cmpopts.IgnoreUnexported(Record{}, Field{})))
}

func TestDecodeRecordErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "empty", data: ""},
		{name: "bad header", data: "not json\n"},
		{name: "malformed field line", data: "{\"class\":\"Task\",\"key\":\"aa\",\"schema\":1}\nnoseparator\n"},
	}
	for _, tts := range tests {
		tt := tts
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := DecodeRecord([]byte(tt.data))
			require.Error(t, err)
		})
	}
}

func TestEncodeRecordRejectsInvalid(t *testing.T) {
	r := testRecord()
	r.Key = "x"
	_, err := EncodeRecord(r)
	require.Error(t, err)

	r = testRecord()
	r.Class = ""
	_, err = EncodeRecord(r)
	require.Error(t, err)

	r = testRecord()
	r.Fields = append(r.Fields, Field{Name: "bad=name", Value: "1"})
	_, err = EncodeRecord(r)
	require.Error(t, err)
}
