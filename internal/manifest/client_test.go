package manifest

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipsix/coresum/internal/logging"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (rt roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return rt(req)
}

func respond(status int, body string) roundTripFunc {
	return func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Body:       io.NopCloser(strings.NewReader(body)),
			Header:     http.Header{},
		}, nil
	}
}

func TestClientFetch(t *testing.T) {
	var seen *http.Request
	client := NewClient("https://api.example.test/core/checksums/1.0/", time.Second, logging.Discard())
	client.Client = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		seen = req
		return respond(http.StatusOK, `{"checksums":{"index.php":"aa","fin-admin/about.php":"bb"}}`)(req)
	})}

	m, err := client.Fetch(context.Background(), "6.4.2", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"index.php", "fin-admin/about.php"}, m.Paths())
	require.NotNil(t, seen)
	assert.Equal(t, "6.4.2", seen.URL.Query().Get("version"))
	assert.Equal(t, DefaultLocale, seen.URL.Query().Get("locale"))
	assert.Equal(t, DefaultUserAgent, seen.Header.Get("User-Agent"))
}

func TestClientFetchUnknownVersion(t *testing.T) {
	client := NewClient("", time.Second, nil)
	client.Client = &http.Client{Transport: respond(http.StatusOK, `{"checksums":false}`)}
	_, err := client.Fetch(context.Background(), "0.0.1", "en_US")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))
	assert.Contains(t, err.Error(), "Couldn't get checksums")
}

func TestClientFetchHTTPError(t *testing.T) {
	client := NewClient("", time.Second, nil)
	client.Client = &http.Client{Transport: respond(http.StatusBadGateway, "upstream down")}
	_, err := client.Fetch(context.Background(), "6.4", "en_US")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientFetchRequiresVersion(t *testing.T) {
	_, err := NewClient("", time.Second, nil).Fetch(context.Background(), "", "en_US")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestClientInsecureRetry(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"checksums":{"index.php":"aa"}}`))
	}))
	defer srv.Close()

	strict := NewClient(srv.URL, 5*time.Second, logging.Discard())
	_, err := strict.Fetch(context.Background(), "6.4", "en_US")
	require.ErrorIs(t, err, ErrUnavailable)

	insecure := NewClient(srv.URL, 5*time.Second, logging.Discard())
	insecure.Insecure = true
	m, err := insecure.Fetch(context.Background(), "6.4", "en_US")
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}

func TestParseResponseMultiVersion(t *testing.T) {
	raw := []byte(`{"checksums":{"6.3":{"a.php":"11"},"6.4":{"b.php":"22","a.php":"33"}}}`)
	m, err := ParseResponse(raw, "6.4")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.php", "a.php"}, m.Paths())

	_, err = ParseResponse(raw, "6.5")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestParseResponseMalformed(t *testing.T) {
	for _, body := range []string{
		`not json`,
		`{}`,
		`{"checksums":null}`,
		`{"checksums":[]}`,
		`{"checksums":{}}`,
		`{"checksums":{"/abs":"aa"}}`,
	} {
		_, err := ParseResponse([]byte(body), "6.4")
		assert.ErrorIs(t, err, ErrUnavailable, body)
	}
}
