package tls

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTLSServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)
	return server
}

func writeServerCA(t *testing.T, server *httptest.Server) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ca.pem")
	data := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw})
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestBuildClient_Defaults(t *testing.T) {
	cfg, err := BuildClient(Config{})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Nil(t, cfg.RootCAs)
	assert.Nil(t, cfg.VerifyConnection)
	assert.True(t, Config{}.IsZero())
}

func TestBuildClient_Rejections(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		msg  string
	}{
		{"insecure", Config{InsecureSkipVerify: true}, "insecure skip verify"},
		{"version", Config{MinVersion: "1.0"}, "unsupported min_version"},
		{"half pair", Config{CertFile: "/tmp/cert.pem"}, "both cert_file and key_file"},
		{"relative ca", Config{CAFile: "ca.pem"}, "must be absolute"},
		{"bad pin", Config{PinnedKeys: []string{"not-a-digest"}}, "invalid pin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildClient(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestBuildClient_MinVersion(t *testing.T) {
	cfg, err := BuildClient(Config{MinVersion: "TLS1.3"})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
}

func TestBuildClient_ClientCertificate(t *testing.T) {
	certPEM, keyPEM, err := GenerateSelfSigned(CertificateOptions{CommonName: "securehttp-client", IsClientCert: true})
	require.NoError(t, err)

	dir := t.TempDir()
	certFile, keyFile := filepath.Join(dir, "client.pem"), filepath.Join(dir, "client-key.pem")
	require.NoError(t, WriteCertificateFiles(certPEM, keyPEM, certFile, keyFile))

	info, err := os.Stat(keyFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := BuildClient(Config{CertFile: certFile, KeyFile: keyFile})
	require.NoError(t, err)
	require.Len(t, cfg.Certificates, 1)

	leaf, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	require.NoError(t, err)
	assert.Equal(t, "securehttp-client", leaf.Subject.CommonName)
	assert.Equal(t, []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth}, leaf.ExtKeyUsage)
}

func TestProbe_CABundle(t *testing.T) {
	server := newTLSServer(t)
	addr := server.Listener.Addr().String()

	cfg, err := BuildClient(Config{CAFile: writeServerCA(t, server)})
	require.NoError(t, err)
	require.NoError(t, Probe(context.Background(), addr, cfg))

	system, err := BuildClient(Config{})
	require.NoError(t, err)
	err = Probe(context.Background(), addr, system)
	require.Error(t, err)
	assert.True(t, IsVerificationFailure(err))
}

func TestProbe_Pinning(t *testing.T) {
	server := newTLSServer(t)
	addr := server.Listener.Addr().String()
	caFile := writeServerCA(t, server)

	pinned, err := BuildClient(Config{CAFile: caFile, PinnedKeys: []string{Fingerprint(server.Certificate())}})
	require.NoError(t, err)
	require.NoError(t, Probe(context.Background(), addr, pinned))

	other := sha256.Sum256([]byte("some other key"))
	mismatched, err := BuildClient(Config{CAFile: caFile, PinnedKeys: []string{base64.StdEncoding.EncodeToString(other[:])}})
	require.NoError(t, err)

	err = Probe(context.Background(), addr, mismatched)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPinMismatch)
	assert.True(t, IsVerificationFailure(err))
}

func TestProbe_PinnedTransport(t *testing.T) {
	server := newTLSServer(t)

	other := sha256.Sum256([]byte("some other key"))
	cfg, err := BuildClient(Config{
		CAFile:     writeServerCA(t, server),
		PinnedKeys: []string{base64.StdEncoding.EncodeToString(other[:])},
	})
	require.NoError(t, err)

	client := &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}}
	_, err = client.Get(server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPinMismatch)
}

func TestIsVerificationFailure_NetworkError(t *testing.T) {
	cfg, err := BuildClient(Config{})
	require.NoError(t, err)

	err = Probe(context.Background(), "127.0.0.1:1", cfg)
	require.Error(t, err)
	assert.False(t, IsVerificationFailure(err))
	assert.False(t, IsVerificationFailure(nil))
}
