package postback

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_Parse(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		format Format
		want   map[string]string
	}{
		{
			name:   "flat json",
			body:   `{"Success":"Y","XactID":"TX-1","PostbackID":"o-1","AuthCode":123456,"Test":false}`,
			format: FormatJSON,
			want:   map[string]string{"success": "Y", "xactid": "TX-1", "postbackid": "o-1", "authcode": "123456", "test": "false"},
		},
		{
			name:   "json with payload object",
			body:   `{"event":"auth","payload":{"Success":"N","XactID":"TX-2","event":"ignored"}}`,
			format: FormatJSON,
			want:   map[string]string{"event": "auth", "success": "N", "xactid": "TX-2"},
		},
		{
			name:   "json with data string",
			body:   `{"data":"{\"Success\":\"Y\",\"XactID\":\"TX-3\"}"}`,
			format: FormatJSON,
			want:   map[string]string{"success": "Y", "xactid": "TX-3"},
		},
		{
			name:   "delimited body wrapping raw json",
			body:   `source=gateway;payload={"Success":"Y","XactID":"TX-4","OrderID":"o-4"}`,
			format: FormatEmbeddedJSON,
			want:   map[string]string{"source": "gateway", "success": "Y", "xactid": "TX-4", "orderid": "o-4"},
		},
		{
			name:   "delimited body wrapping encoded json",
			body:   `payload=%7B%22Success%22%3A%22N%22%2C%22XactID%22%3A%22TX-5%22%7D&RestrictKey=k`,
			format: FormatEmbeddedJSON,
			want:   map[string]string{"success": "N", "xactid": "TX-5", "restrictkey": "k"},
		},
		{
			name:   "comma delimited with percent encoding",
			body:   "Success=N,RespText=Insufficient%20Funds,XactID=TX-6,PostbackID=o-6",
			format: FormatDelimited,
			want:   map[string]string{"success": "N", "resptext": "Insufficient Funds", "xactid": "TX-6", "postbackid": "o-6"},
		},
		{
			name:   "semicolon delimited",
			body:   "Success=Y; XactID=TX-7 ;PostbackID=o-7\n",
			format: FormatDelimited,
			want:   map[string]string{"success": "Y", "xactid": "TX-7", "postbackid": "o-7"},
		},
		{
			name:   "comma inside a value",
			body:   "Success=Y,RespText=Approved, thank you,XactID=TX-8",
			format: FormatDelimited,
			want:   map[string]string{"success": "Y", "resptext": "Approved, thank you", "xactid": "TX-8"},
		},
		{
			name:   "ampersand inside a comma delimited value",
			body:   "Success=N,RespText=Call & verify,XactID=TX-9,PostbackID=o-9",
			format: FormatDelimited,
			want:   map[string]string{"success": "N", "resptext": "Call & verify", "xactid": "TX-9", "postbackid": "o-9"},
		},
		{
			name:   "separator inside a semicolon delimited value",
			body:   "Success=N;RespText=Do Not Honor; Call Issuer;XactID=TX-10;PostbackID=o-10",
			format: FormatDelimited,
			want:   map[string]string{"success": "N", "resptext": "Do Not Honor; Call Issuer", "xactid": "TX-10", "postbackid": "o-10"},
		},
		{
			name:   "semicolon inside a comma delimited value",
			body:   "Success=N,RespText=Do Not Honor; Call Issuer,XactID=TX-11",
			format: FormatDelimited,
			want:   map[string]string{"success": "N", "resptext": "Do Not Honor; Call Issuer", "xactid": "TX-11"},
		},
		{
			name:   "plus is kept literally",
			body:   "Success=N&RespText=Do+Not+Honor%20now&XactID=TX-12&RestrictKey=ab+cd",
			format: FormatDelimited,
			want:   map[string]string{"success": "N", "resptext": "Do+Not+Honor now", "xactid": "TX-12", "restrictkey": "ab+cd"},
		},
		{
			name:   "newline delimited",
			body:   "Success=Y\r\nRespText=Approved; ok\r\nXactID=TX-13\r\n",
			format: FormatDelimited,
			want:   map[string]string{"success": "Y", "resptext": "Approved; ok", "xactid": "TX-13"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, format, err := DefaultChain().Parse([]byte(tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.format, format)
			for k, v := range tt.want {
				assert.Equal(t, v, fields[k], "field %s", k)
			}
			if tt.name == "json with payload object" {
				assert.Equal(t, "auth", fields["event"], "outer fields win over nested ones")
			}
		})
	}
}

func TestChain_ParseRejects(t *testing.T) {
	for _, body := range []string{"", "   ", "garbage", "{not json", "=value", "oops;Success=Y", "Success=%zz"} {
		_, _, err := DefaultChain().Parse([]byte(body))
		assert.True(t, errors.Is(err, ErrFormat), "body %q: %v", body, err)
	}
}

func TestFields_GetPrefersFirstName(t *testing.T) {
	f := Fields{"postbackid": "pb-1", "orderid": "o-1"}
	assert.Equal(t, "pb-1", f.Get(FieldPostbackID, FieldOrderID))

	f = Fields{"postbackid": " ", "orderid": "o-1"}
	assert.Equal(t, "o-1", f.Get(FieldPostbackID, FieldOrderID))
	assert.True(t, f.Has("PostbackID"))
}

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		code  string
		want  Outcome
		known bool
	}{
		{"Y", OutcomeApproved, true},
		{" y ", OutcomeApproved, true},
		{"N", OutcomeDeclined, true},
		{"U", OutcomeIndeterminate, true},
		{"E", OutcomeIndeterminate, true},
		{"Q", OutcomeIndeterminate, false},
		{"", OutcomeIndeterminate, false},
	}
	for _, tt := range tests {
		got, known := ParseOutcome(tt.code)
		assert.Equal(t, tt.want, got, tt.code)
		assert.Equal(t, tt.known, known, tt.code)
	}

	s, ok := OutcomeApproved.OrderStatus()
	assert.True(t, ok)
	assert.Equal(t, "paid", string(s))
	s, ok = OutcomeDeclined.OrderStatus()
	assert.True(t, ok)
	assert.Equal(t, "failed", string(s))
	_, ok = OutcomeIndeterminate.OrderStatus()
	assert.False(t, ok)
}

func TestAuthenticator(t *testing.T) {
	with := Notification{Secret: "s3cret", HasSecret: true}
	wrong := Notification{Secret: "guess", HasSecret: true}
	without := Notification{}

	tests := []struct {
		name    string
		auth    Authenticator
		n       Notification
		reduced bool
		err     error
	}{
		{"match", NewAuthenticator("s3cret", false), with, false, nil},
		{"mismatch strict", NewAuthenticator("s3cret", false), wrong, false, ErrSecretMismatch},
		{"mismatch relaxed", NewAuthenticator("s3cret", true), wrong, false, ErrSecretMismatch},
		{"absent strict", NewAuthenticator("s3cret", false), without, false, ErrMissingSecret},
		{"absent relaxed", NewAuthenticator("s3cret", true), without, true, nil},
		{"unconfigured strict", NewAuthenticator("", false), with, false, ErrNoSecretConfigured},
		{"unconfigured relaxed", NewAuthenticator("", true), with, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reduced, err := tt.auth.Check(tt.n)
			assert.Equal(t, tt.reduced, reduced)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
			assert.ErrorIs(t, err, ErrAuthentication)
		})
	}
}
