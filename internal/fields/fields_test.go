package fields

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Serial   string     `json:"serial"`
	Result   *string    `json:"result"`
	Runtime  *int       `json:"runtime"`
	Value    *float64   `json:"value"`
	Enabled  bool       `json:"enabled"`
	Started  *time.Time `json:"started"`
	Readings []float64  `json:"readings"`
	Tags     []string   `json:"tags"`
	Version  *string    `json:"version"`
}

var sampleSet = Set{
	{Key: "serial", Kind: String, MaxLen: 8, Required: true},
	{Key: "result", Kind: String, MaxLen: 16, Default: "PENDING"},
	{Key: "runtime", Kind: Int, Hint: "(seconds)"},
	{Key: "value", Kind: Float},
	{Key: "enabled", Kind: Bool, Default: false},
	{Key: "test_start_time", Target: "started", Kind: Time},
	{Key: "readings", Kind: JSON},
	{Key: "tags", Kind: StringList},
	{Key: "version", Kind: String, Default: "1.0.0"},
}

func decode(t *testing.T, body string) map[string]any {
	t.Helper()
	m, err := Decode(strings.NewReader(body))
	require.NoError(t, err)
	return m
}

func TestApply_CreateAppliesDefaultsAndCoercion(t *testing.T) {
	var s sample
	body := decode(t, `{"serial":"SN01","runtime":"42","value":"1.5","enabled":"true",
		"test_start_time":"2026-03-01 08:00:00","readings":[1.5,2,3],"tags":["a","b"],"ignored":"x"}`)

	_, err := sampleSet.Apply(&s, body, Options{Create: true, Location: time.FixedZone("UTC+8", 8*3600)})
	require.NoError(t, err)

	assert.Equal(t, "SN01", s.Serial)
	require.NotNil(t, s.Result)
	assert.Equal(t, "PENDING", *s.Result)
	require.NotNil(t, s.Runtime)
	assert.Equal(t, 42, *s.Runtime)
	require.NotNil(t, s.Value)
	assert.InDelta(t, 1.5, *s.Value, 1e-9)
	assert.True(t, s.Enabled)
	require.NotNil(t, s.Started)
	assert.True(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC).Equal(*s.Started))
	assert.Equal(t, []float64{1.5, 2, 3}, s.Readings)
	assert.Equal(t, []string{"a", "b"}, s.Tags)
	require.NotNil(t, s.Version)
	assert.Equal(t, "1.0.0", *s.Version)
}

func TestApply_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		msg  string
	}{
		{"missing serial", `{}`, "serial is required"},
		{"empty serial", `{"serial":"  "}`, "serial is required"},
		{"null serial", `{"serial":null}`, "serial is required"},
		{"long serial", `{"serial":"123456789"}`, "serial too long (max 8 characters)"},
		{"fractional int", `{"serial":"A","runtime":1.5}`, "runtime must be an integer (seconds)"},
		{"text int", `{"serial":"A","runtime":"abc"}`, "runtime must be an integer (seconds)"},
		{"bad float", `{"serial":"A","value":"x"}`, "value must be a number"},
		{"bad bool", `{"serial":"A","enabled":"maybe"}`, "enabled must be a boolean"},
		{"bad time", `{"serial":"A","test_start_time":"yesterday"}`, "test_start_time has an invalid datetime format"},
		{"bad list", `{"serial":"A","tags":[1]}`, "tags must be a list of strings"},
		{"object serial", `{"serial":{"a":1}}`, "serial must be a string"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var s sample
			_, err := sampleSet.Apply(&s, decode(t, tc.body), Options{Create: true})
			var ferr *Error
			require.True(t, errors.As(err, &ferr), "got %v", err)
			assert.Equal(t, tc.msg, ferr.Message)
		})
	}
}

func TestApply_PartialUpdateKeepsOtherFields(t *testing.T) {
	result := "pass"
	runtime := 10
	s := sample{Serial: "SN01", Result: &result, Runtime: &runtime}

	_, err := sampleSet.Apply(&s, decode(t, `{"result":"fail","value":2}`), Options{})
	require.NoError(t, err)

	assert.Equal(t, "SN01", s.Serial)
	assert.Equal(t, "fail", *s.Result)
	assert.Equal(t, 10, *s.Runtime)
	assert.InDelta(t, 2.0, *s.Value, 1e-9)
	assert.Nil(t, s.Version, "defaults only apply on create")
}

func TestApply_NullClearsOptionalField(t *testing.T) {
	result := "pass"
	s := sample{Serial: "SN01", Result: &result}
	_, err := sampleSet.Apply(&s, decode(t, `{"result":null}`), Options{})
	require.NoError(t, err)
	assert.Nil(t, s.Result)
}

func TestApply_IntegralFloatAccepted(t *testing.T) {
	var s sample
	_, err := sampleSet.Apply(&s, decode(t, `{"serial":"A","runtime":30.0}`), Options{Create: true})
	require.NoError(t, err)
	assert.Equal(t, 30, *s.Runtime)
}

func TestDecode_RejectsNonObjects(t *testing.T) {
	for _, body := range []string{"", "[1,2]", `"text"`} {
		_, err := Decode(strings.NewReader(body))
		assert.ErrorIs(t, err, ErrNotObject, body)
	}
	_, err := Decode(strings.NewReader("{broken"))
	var ferr *Error
	assert.True(t, errors.As(err, &ferr))
}

func TestLookup(t *testing.T) {
	sp, ok := sampleSet.Lookup("runtime")
	require.True(t, ok)
	assert.Equal(t, Int, sp.Kind)
	_, ok = sampleSet.Lookup("nope")
	assert.False(t, ok)
}
