package connmgr

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadEventStream(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "single frame",
			body: "data: {\"type\":\"a\"}\n\n",
			want: []string{`{"type":"a"}`},
		},
		{
			name: "two frames",
			body: "data: one\n\ndata: two\n\n",
			want: []string{"one", "two"},
		},
		{
			name: "multi-line data joins with newline",
			body: "data: first\ndata: second\n\n",
			want: []string{"first\nsecond"},
		},
		{
			name: "comments and foreign fields skipped",
			body: ": keepalive\nevent: message\nid: 42\nretry: 1000\ndata: payload\n\n",
			want: []string{"payload"},
		},
		{
			name: "crlf line endings",
			body: "data: payload\r\n\r\n",
			want: []string{"payload"},
		},
		{
			name: "unterminated trailing frame still flushes",
			body: "data: tail",
			want: []string{"tail"},
		},
		{
			name: "empty body",
			body: "",
			want: nil,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var got []string
			err := readEventStream(strings.NewReader(tc.body), func(data string) {
				got = append(got, data)
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestAffinitySessionID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
		want string
	}{
		{
			name: "explicit sessionID property",
			data: `{"type":"session.status","properties":{"sessionID":"ses_1"}}`,
			want: "ses_1",
		},
		{
			name: "part carries sessionID",
			data: `{"type":"message.part.updated","properties":{"part":{"id":"prt_1","messageID":"msg_1","sessionID":"ses_2"}}}`,
			want: "ses_2",
		},
		{
			name: "session info uses its own id",
			data: `{"type":"session.updated","properties":{"info":{"id":"ses_3"}}}`,
			want: "ses_3",
		},
		{
			name: "message info uses sessionID",
			data: `{"type":"message.updated","properties":{"info":{"id":"msg_1","sessionID":"ses_4"}}}`,
			want: "ses_4",
		},
		{
			name: "nothing recognizable",
			data: `{"type":"provider.updated","properties":{}}`,
			want: "",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ev := mustDecodeEvent(t, tc.data)
			assert.Equal(t, tc.want, affinitySessionID(ev))
		})
	}
}
