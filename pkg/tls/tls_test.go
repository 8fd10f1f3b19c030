// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tls

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/absmach/mqtt/options"
)

// testCerts holds paths to generated test certificates.
type testCerts struct {
	caFile   string
	certFile string
	keyFile  string

	caKey  *rsa.PrivateKey
	caCert *x509.Certificate
}

// generateTestCerts writes a self-signed CA and a server certificate into
// a temporary directory.
func generateTestCerts(t *testing.T) *testCerts {
	t.Helper()

	dir := t.TempDir()

	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "Test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	require.NoError(t, err)
	caCert, err := x509.ParseCertificate(caDER)
	require.NoError(t, err)

	caFile := filepath.Join(dir, "ca.crt")
	writePEM(t, caFile, "CERTIFICATE", caDER)

	serverKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	serverTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
	}
	serverDER, err := x509.CreateCertificate(rand.Reader, serverTemplate, caCert, &serverKey.PublicKey, caKey)
	require.NoError(t, err)

	certFile := filepath.Join(dir, "server.crt")
	writePEM(t, certFile, "CERTIFICATE", serverDER)

	keyFile := filepath.Join(dir, "server.key")
	writePEM(t, keyFile, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(serverKey))

	return &testCerts{
		caFile:   caFile,
		certFile: certFile,
		keyFile:  keyFile,
		caKey:    caKey,
		caCert:   caCert,
	}
}

func writePEM(t *testing.T, path, blockType string, der []byte) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, pem.Encode(f, &pem.Block{Type: blockType, Bytes: der}))
}

func (c *testCerts) crl(t *testing.T, serials ...int64) []byte {
	t.Helper()

	template := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now(),
		NextUpdate: time.Now().Add(24 * time.Hour),
	}
	for _, s := range serials {
		template.RevokedCertificateEntries = append(template.RevokedCertificateEntries,
			x509.RevocationListEntry{
				SerialNumber:   big.NewInt(s),
				RevocationTime: time.Now(),
			})
	}

	der, err := x509.CreateRevocationList(rand.Reader, template, c.caCert, c.caKey)
	require.NoError(t, err)
	return pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: der})
}

func TestLoadNoCertMaterial(t *testing.T) {
	trans := options.NewTransportOptions()

	config, err := Load(&trans)
	require.NoError(t, err)
	assert.Nil(t, config)
}

func TestLoadKeyCert(t *testing.T) {
	certs := generateTestCerts(t)

	trans := options.NewTransportOptions()
	trans.CertFile = certs.certFile
	trans.KeyFile = certs.keyFile

	config, err := Load(&trans)
	require.NoError(t, err)
	require.NotNil(t, config)
	assert.Len(t, config.Certificates, 1)
	assert.Equal(t, uint16(tls.VersionTLS12), config.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS13), config.MaxVersion)
	assert.Equal(t, tls.NoClientCert, config.ClientAuth)
}

func TestLoadClientAuth(t *testing.T) {
	certs := generateTestCerts(t)

	tests := []struct {
		mode options.ClientAuth
		want tls.ClientAuthType
	}{
		{options.ClientAuthNone, tls.NoClientCert},
		{options.ClientAuthRequest, tls.RequestClientCert},
		{options.ClientAuthRequire, tls.RequireAndVerifyClientCert},
	}

	for _, tt := range tests {
		t.Run(string(tt.mode), func(t *testing.T) {
			trans := options.NewTransportOptions()
			trans.CertFile = certs.certFile
			trans.KeyFile = certs.keyFile
			trans.TrustFile = certs.caFile
			trans.ClientAuth = tt.mode

			config, err := Load(&trans)
			require.NoError(t, err)
			assert.Equal(t, tt.want, config.ClientAuth)
			assert.NotNil(t, config.ClientCAs)
		})
	}
}

func TestLoadCipherSuites(t *testing.T) {
	certs := generateTestCerts(t)

	trans := options.NewTransportOptions()
	trans.CertFile = certs.certFile
	trans.KeyFile = certs.keyFile
	trans.CipherSuites = []string{"TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256"}

	config, err := Load(&trans)
	require.NoError(t, err)
	assert.Equal(t, []uint16{tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256}, config.CipherSuites)

	trans.CipherSuites = []string{"TLS_TOTALLY_MADE_UP"}
	_, err = Load(&trans)
	require.ErrorIs(t, err, errUnknownCipher)
}

func TestLoadProtocolBounds(t *testing.T) {
	certs := generateTestCerts(t)

	trans := options.NewTransportOptions()
	trans.CertFile = certs.certFile
	trans.KeyFile = certs.keyFile
	trans.SecureTransportProtocols = []string{"TLSv1.3"}

	config, err := Load(&trans)
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), config.MinVersion)
	assert.Equal(t, uint16(tls.VersionTLS13), config.MaxVersion)

	trans.SecureTransportProtocols = []string{"SSLv3"}
	_, err = Load(&trans)
	require.ErrorIs(t, err, errUnknownProtocol)
}

func TestLoadCRL(t *testing.T) {
	certs := generateTestCerts(t)

	trans := options.NewTransportOptions()
	trans.CertFile = certs.certFile
	trans.KeyFile = certs.keyFile
	trans.CRLValues = [][]byte{certs.crl(t, 2)}

	config, err := Load(&trans)
	require.NoError(t, err)
	require.NotNil(t, config.VerifyPeerCertificate)

	// The server certificate carries the revoked serial 2.
	serverPEM, err := os.ReadFile(certs.certFile)
	require.NoError(t, err)
	block, _ := pem.Decode(serverPEM)
	require.NotNil(t, block)

	err = config.VerifyPeerCertificate([][]byte{block.Bytes}, nil)
	require.ErrorIs(t, err, errRevokedCert)

	// A list that revokes an unrelated serial lets it pass.
	trans.CRLValues = [][]byte{certs.crl(t, 99)}
	config, err = Load(&trans)
	require.NoError(t, err)
	require.NoError(t, config.VerifyPeerCertificate([][]byte{block.Bytes}, nil))
}
