package umf_test

import (
	"testing"

	"github.com/hydra-mesh/hydra/umf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndValidate(t *testing.T) {
	msg := umf.New("svc:/v1/do", "caller", map[string]any{"x": 1})
	require.NoError(t, msg.Validate())
	assert.NotEmpty(t, msg.MID)
	assert.NotEmpty(t, msg.Timestamp)
}

func TestValidateMissingFields(t *testing.T) {
	msg := &umf.Message{}
	assert.ErrorIs(t, msg.Validate(), umf.ErrMissingTo)

	msg.To = "svc"
	assert.ErrorIs(t, msg.Validate(), umf.ErrMissingFrom)

	msg.From = "caller"
	assert.ErrorIs(t, msg.Validate(), umf.ErrMissingBody)
}

func TestShortRoundTrip(t *testing.T) {
	msg := umf.New("svc:/v1/do", "caller", map[string]any{"x": 1})
	msg.Headers = map[string]string{"trace": "abc"}

	short1 := umf.ToShort(msg)
	long := umf.ToLong(short1)
	short2 := umf.ToShort(long)

	assert.Equal(t, short1, short2)
}

func TestMarshalShortUnmarshalShort(t *testing.T) {
	msg := umf.New("svc:/v1/do", "caller", map[string]any{"x": float64(1)})
	data, err := umf.MarshalShort(msg)
	require.NoError(t, err)

	back, err := umf.UnmarshalShort(data)
	require.NoError(t, err)
	assert.Equal(t, msg.To, back.To)
	assert.Equal(t, msg.From, back.From)
	assert.Equal(t, msg.MID, back.MID)
	assert.Equal(t, msg.Body, back.Body)
}

func TestReplyCorrelation(t *testing.T) {
	req := umf.New("svc:/v1/do", "caller", map[string]any{})
	resp := umf.Reply(req, "svc", map[string]any{"ok": true})
	assert.Equal(t, req.MID, resp.RMID)
	assert.Equal(t, req.From, resp.To)
	assert.Equal(t, "response", resp.Type)
}

func TestParseRoute(t *testing.T) {
	cases := []struct {
		in      string
		subject string
		method  string
		path    string
	}{
		{"hydra-router:/refresh", "hydra-router", "get", "/refresh"},
		{"auth:[get]/v1/users/123", "auth", "get", "/v1/users/123"},
		{"auth:[post]/v1/users", "auth", "post", "/v1/users"},
		{"http://edge:/v1/users", "http://edge", "get", "/v1/users"},
	}
	for _, c := range cases {
		pr, err := umf.ParseRoute(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.subject, pr.Subject, c.in)
		assert.Equal(t, c.method, pr.HTTPMethod, c.in)
		assert.Equal(t, c.path, pr.APIRoute, c.in)
	}
}

func TestParseRouteSplitsInstanceAndSubID(t *testing.T) {
	pr, err := umf.ParseRoute("worker-3@auth:/v1/jobs")
	require.NoError(t, err)
	assert.Equal(t, "worker", pr.Instance)
	assert.Equal(t, "3", pr.SubID)
	assert.Equal(t, "auth", pr.Subject)
	assert.Equal(t, "/v1/jobs", pr.APIRoute)
}

func TestParseRouteInvalid(t *testing.T) {
	_, err := umf.ParseRoute("")
	assert.Error(t, err)

	_, err = umf.ParseRoute("notify")
	assert.Error(t, err)

	_, err = umf.ParseRoute("auth:[get")
	assert.Error(t, err)
}
