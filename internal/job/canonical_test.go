package job

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vectorLine = `{"job_id": "abc", "created_at": "2024-01-01T00:00:00.000000Z", "tool": "notes.create", ` +
	`"args": {"title": "Café <b>", "body": "line1\nline2 😀", "tags": ["x"]}, ` +
	`"sig": "rEWDp8kgakG4fIU6XmAVG9gRYR8GOb/jBExMjM199Zs="}`

const vectorCanonical = `{"args":{"body":"line1\nline2 \ud83d\ude00","tags":["x"],"title":"Caf\u00e9 <b>"},` +
	`"created_at":"2024-01-01T00:00:00.000000Z","job_id":"abc","tool":"notes.create"}`

func TestCanonical_MatchesProducerEncoding(t *testing.T) {
	j, err := Decode([]byte(vectorLine))
	require.NoError(t, err)

	got, err := Canonical(j)
	require.NoError(t, err)
	assert.Equal(t, vectorCanonical, string(got))
}

func TestCanonical_ExcludesSig(t *testing.T) {
	base := &Job{ID: "1", CreatedAt: "2024-01-01T00:00:00.000000Z", Tool: ToolNotesCreate, Args: Args{Title: "T", Body: "B"}}
	withSig := *base
	withSig.Sig = "anything"

	a, err := Canonical(base)
	require.NoError(t, err)
	b, err := Canonical(&withSig)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.NotContains(t, string(a), "sig")
}

func TestCanonical_DecodedAndBuiltAgree(t *testing.T) {
	built := &Job{
		ID:        "abc",
		CreatedAt: "2024-01-01T00:00:00.000000Z",
		Tool:      ToolNotesCreate,
		Args:      Args{Title: "Café <b>", Body: "line1\nline2 😀", Tags: []string{"x"}},
	}
	got, err := Canonical(built)
	require.NoError(t, err)
	assert.Equal(t, vectorCanonical, string(got))
}

func TestCanonical_KeyOrderIndependent(t *testing.T) {
	a, err := Decode([]byte(`{"tool":"notes.create","job_id":"1","args":{"body":"b","title":"t"},"created_at":"x"}`))
	require.NoError(t, err)
	b, err := Decode([]byte(`{"created_at":"x","args":{"title":"t","body":"b"},"job_id":"1","tool":"notes.create"}`))
	require.NoError(t, err)

	ca, err := Canonical(a)
	require.NoError(t, err)
	cb, err := Canonical(b)
	require.NoError(t, err)
	assert.Equal(t, string(ca), string(cb))
}

func TestCanonical_PreservesUnknownFields(t *testing.T) {
	j, err := Decode([]byte(`{"job_id":"1","extra":{"n":10,"f":1.5,"z":null},"args":{"title":"t","body":"b"}}`))
	require.NoError(t, err)

	got, err := Canonical(j)
	require.NoError(t, err)
	assert.Equal(t, `{"args":{"body":"b","title":"t"},"extra":{"f":1.5,"n":10,"z":null},"job_id":"1"}`, string(got))
}

func TestCanonical_NormalizesNumbers(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.50", "1.5"},
		{"1e2", "100.0"},
		{"1E2", "100.0"},
		{"-0", "0"},
		{"-0.0", "-0.0"},
		{"12345678901234567890", "12345678901234567890"},
		{"0.0001", "0.0001"},
		{"0.00001", "1e-05"},
		{"1e16", "1e+16"},
		{"9999999999999998.0", "9999999999999998.0"},
		{"1.5e300", "1.5e+300"},
		{"1e400", "Infinity"},
		{"-1e400", "-Infinity"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			j, err := Decode([]byte(`{"job_id":"1","n":` + tt.in + `}`))
			require.NoError(t, err)

			got, err := Canonical(j)
			require.NoError(t, err)
			assert.Equal(t, `{"job_id":"1","n":`+tt.want+`}`, string(got))
		})
	}
}

func TestCanonical_EqualNumbersCanonicalizeIdentically(t *testing.T) {
	a, err := Decode([]byte(`{"job_id":"1","m":1.50,"n":1e2}`))
	require.NoError(t, err)
	b, err := Decode([]byte(`{"job_id":"1","m":1.5,"n":100.0}`))
	require.NoError(t, err)

	ca, err := Canonical(a)
	require.NoError(t, err)
	cb, err := Canonical(b)
	require.NoError(t, err)
	assert.Equal(t, string(cb), string(ca))
	assert.Equal(t, `{"job_id":"1","m":1.5,"n":100.0}`, string(ca))
}

func TestCanonical_StringEscapes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", `"hello"`},
		{"quote and backslash", `a"b\c`, `"a\"b\\c"`},
		{"controls", "\t\r\b\f\x01", `"\t\r\b\f\u0001"`},
		{"del", "\x7f", `"\u007f"`},
		{"html untouched", "<a>&</a>", `"<a>&</a>"`},
		{"slash untouched", "a/b", `"a/b"`},
		{"bmp", "ü", `"\u00fc"`},
		{"astral", "𝄞", `"\ud834\udd1e"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := &Job{Args: Args{Title: tt.in}}
			got, err := Canonical(j)
			require.NoError(t, err)
			assert.Contains(t, string(got), `"title":`+tt.want)
		})
	}
}

func TestCanonical_FieldChangeChangesOutput(t *testing.T) {
	base := &Job{ID: "1", CreatedAt: "c", Tool: ToolNotesCreate, Args: Args{Title: "T", Body: "B"}}
	ref, err := Canonical(base)
	require.NoError(t, err)

	mutations := map[string]func(j *Job){
		"id":      func(j *Job) { j.ID = "2" },
		"created": func(j *Job) { j.CreatedAt = "d" },
		"tool":    func(j *Job) { j.Tool = "notes.delete" },
		"title":   func(j *Job) { j.Args.Title = "U" },
		"body":    func(j *Job) { j.Args.Body = "C" },
		"folder":  func(j *Job) { j.Args.Folder = "Work" },
		"account": func(j *Job) { j.Args.Account = "iCloud" },
		"confirm": func(j *Job) { j.Args.Confirm = true },
		"tags":    func(j *Job) { j.Args.Tags = []string{"a"} },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			j := *base
			mutate(&j)
			got, err := Canonical(&j)
			require.NoError(t, err)
			assert.NotEqual(t, string(ref), string(got))
		})
	}
}

func TestDecode_Rejects(t *testing.T) {
	for _, line := range []string{``, `not json`, `[1,2]`, `null`, `"str"`, `{"a":1} {"b":2}`} {
		_, err := Decode([]byte(line))
		assert.Error(t, err, "line %q", line)
	}
}

func TestEncode_RoundTripsThroughDecode(t *testing.T) {
	j := &Job{ID: "1", CreatedAt: "c", Tool: ToolNotesCreate, Args: Args{Title: "T", Body: "B", Confirm: true}, Sig: "s"}
	line, err := Encode(j)
	require.NoError(t, err)

	back, err := Decode(line)
	require.NoError(t, err)
	assert.Equal(t, j.ID, back.ID)
	assert.Equal(t, j.Sig, back.Sig)
	assert.Equal(t, j.Args, back.Args)
}
