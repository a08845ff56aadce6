package provision

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"fireedge.io/gateway/internal/upstream"
	"fireedge.io/gateway/models"
)

var testCreds = upstream.Credentials{Username: "oneadmin", Password: "tok"}

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	installFakeCLI(t)
	return NewRunner(RunnerOptions{
		ProvisionCommand: "oneprovision",
		ProviderCommand:  "oneprovider",
		Endpoint:         "http://engine:2633/RPC2",
		Timeout:          5 * time.Second,
		Logger:           zaptest.NewLogger(t),
	})
}

func TestRunner_AuthArgs(t *testing.T) {
	r := NewRunner(RunnerOptions{Endpoint: "http://engine:2633/RPC2"})
	assert.Equal(t,
		[]string{"--user", "oneadmin", "--password", "tok", "--endpoint", "http://engine:2633/RPC2"},
		r.AuthArgs(testCreds))
}

func TestRunner_ShowAppendsAuthAndJSON(t *testing.T) {
	r := newTestRunner(t)

	doc, err := r.ShowProvision(context.Background(), testCreds, "5")
	require.NoError(t, err)

	m := doc.(map[string]interface{})
	assert.Equal(t, "5", m["ID"])
	assert.Equal(t, "show 5 --json --user oneadmin --password tok --endpoint http://engine:2633/RPC2", m["ARGS"])
}

func TestRunner_List(t *testing.T) {
	r := newTestRunner(t)

	doc, err := r.ListProvisions(context.Background(), testCreds)
	require.NoError(t, err)
	assert.Len(t, doc, 1)

	doc, err = r.ListProviders(context.Background(), testCreds)
	require.NoError(t, err)
	assert.Len(t, doc, 1)
}

func TestRunner_NotFound(t *testing.T) {
	r := newTestRunner(t)

	_, err := r.ShowProvider(context.Background(), testCreds, "404")
	ue, ok := models.AsUpstream(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, http.StatusNotFound, ue.Status)
	assert.Equal(t, "Provision 404 not found", ue.Message)
	assert.Equal(t, 1, ue.Code)
}

func TestRunner_FailureWithoutOutput(t *testing.T) {
	r := newTestRunner(t)

	_, err := r.Run(context.Background(), testCreds, "oneprovision", "fail")
	ue, ok := models.AsUpstream(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, http.StatusInternalServerError, ue.Status)
	assert.Contains(t, ue.Message, "exited with code 3")
}

func TestRunner_MissingBinary(t *testing.T) {
	r := NewRunner(RunnerOptions{ProvisionCommand: "/nonexistent/oneprovision"})

	_, err := r.ListProvisions(context.Background(), testCreds)
	assert.True(t, errors.Is(err, models.ErrUpstreamUnavailable), "got %v", err)
}

func TestRunner_HostAction(t *testing.T) {
	r := newTestRunner(t)

	require.NoError(t, r.HostAction(context.Background(), testCreds, "reboot", "3"))
	require.NoError(t, r.DeleteProvider(context.Background(), testCreds, "3"))

	err := r.HostAction(context.Background(), testCreds, "ssh", "3")
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))

	err = r.HostAction(context.Background(), testCreds, "reboot", "3; rm -rf /")
	assert.True(t, errors.Is(err, models.ErrInvalidRequest))
}
