package polyglot

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewMQTTTransport_MissingCA(t *testing.T) {
	_, err := NewMQTTTransport(MQTTOptions{
		Host:   "localhost",
		Port:   1888,
		CAFile: filepath.Join(t.TempDir(), "missing.pem"),
	}, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read mqtt ca")
}

func TestNewMQTTTransport_CAWithoutCertificates(t *testing.T) {
	ca := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(ca, []byte("not a certificate"), 0o600))

	_, err := NewMQTTTransport(MQTTOptions{Host: "localhost", Port: 1888, CAFile: ca}, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "holds no certificates")
}

func TestMQTTTransport_NotConnected(t *testing.T) {
	tr, err := NewMQTTTransport(MQTTOptions{Host: "localhost", Port: 1888, ClientID: "test"}, discardLogger())
	require.NoError(t, err)

	assert.False(t, tr.IsConnected())
	assert.Error(t, tr.Publish("udi/pg3/ns/status/x", []byte(`{}`)))

	require.NoError(t, tr.Subscribe("udi/pg3/ns/clients/x", func([]byte) {}))
	assert.Contains(t, tr.subs, "udi/pg3/ns/clients/x")

	tr.Disconnect()
	tr.Disconnect()
	assert.Error(t, tr.Connect(context.Background()))
}
