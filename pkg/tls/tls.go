// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tls builds server TLS configurations from transport options.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/absmach/mqtt/options"
)

var (
	errLoadCerts       = errors.New("failed to load certificates")
	errLoadTrustCA     = errors.New("failed to load trust CA")
	errAppendCA        = errors.New("failed to append trust CA to tls.Config")
	errLoadCRL         = errors.New("failed to load CRL")
	errUnknownCipher   = errors.New("unknown cipher suite")
	errUnknownProtocol = errors.New("unknown secure transport protocol")
	errRevokedCert     = errors.New("certificate is revoked")
)

var protocolVersions = map[string]uint16{
	"TLSv1":   tls.VersionTLS10,
	"TLSv1.1": tls.VersionTLS11,
	"TLSv1.2": tls.VersionTLS12,
	"TLSv1.3": tls.VersionTLS13,
}

// Load returns a *tls.Config built from the transport settings, or nil
// when no key/cert material is configured.
func Load(t *options.TransportOptions) (*tls.Config, error) {
	if t.CertFile == "" || t.KeyFile == "" {
		return nil, nil
	}

	certificate, err := tls.LoadX509KeyPair(t.CertFile, t.KeyFile)
	if err != nil {
		return nil, errors.Join(errLoadCerts, err)
	}

	config := &tls.Config{
		Certificates: []tls.Certificate{certificate},
		MinVersion:   tls.VersionTLS12,
	}

	if len(t.SecureTransportProtocols) > 0 {
		minV, maxV, err := versionBounds(t.SecureTransportProtocols)
		if err != nil {
			return nil, err
		}
		config.MinVersion = minV
		config.MaxVersion = maxV
	}

	suites, err := cipherSuiteIDs(t.CipherSuites)
	if err != nil {
		return nil, err
	}
	config.CipherSuites = suites

	if t.TrustFile != "" {
		ca, err := os.ReadFile(t.TrustFile)
		if err != nil {
			return nil, errors.Join(errLoadTrustCA, err)
		}
		config.ClientCAs = x509.NewCertPool()
		if !config.ClientCAs.AppendCertsFromPEM(ca) {
			return nil, errAppendCA
		}
	}

	switch t.ClientAuth {
	case options.ClientAuthRequest:
		config.ClientAuth = tls.RequestClientCert
	case options.ClientAuthRequire:
		config.ClientAuth = tls.RequireAndVerifyClientCert
	default:
		config.ClientAuth = tls.NoClientCert
	}

	revoked, err := revokedSerials(t.CRLPaths, t.CRLValues)
	if err != nil {
		return nil, err
	}
	if len(revoked) > 0 {
		config.VerifyPeerCertificate = rejectRevoked(revoked)
	}

	return config, nil
}

// versionBounds maps the named protocol versions to the lowest and highest
// enabled TLS version.
func versionBounds(protocols []string) (uint16, uint16, error) {
	var minV, maxV uint16
	for _, p := range protocols {
		v, ok := protocolVersions[p]
		if !ok {
			return 0, 0, fmt.Errorf("%w: %q", errUnknownProtocol, p)
		}
		if minV == 0 || v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	return minV, maxV, nil
}

// cipherSuiteIDs resolves standard cipher suite names to their IDs. An
// empty list keeps the runtime default (nil).
func cipherSuiteIDs(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}

	byName := make(map[string]uint16)
	for _, cs := range tls.CipherSuites() {
		byName[cs.Name] = cs.ID
	}
	for _, cs := range tls.InsecureCipherSuites() {
		byName[cs.Name] = cs.ID
	}

	ids := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", errUnknownCipher, name)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// revokedSerials collects the revoked certificate serial numbers from the
// configured revocation lists. Lists can be PEM or raw DER.
func revokedSerials(paths []string, values [][]byte) (map[string]struct{}, error) {
	serials := make(map[string]struct{})

	add := func(data []byte) error {
		if block, _ := pem.Decode(data); block != nil {
			data = block.Bytes
		}
		crl, err := x509.ParseRevocationList(data)
		if err != nil {
			return errors.Join(errLoadCRL, err)
		}
		for _, entry := range crl.RevokedCertificateEntries {
			serials[entry.SerialNumber.String()] = struct{}{}
		}
		return nil
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Join(errLoadCRL, err)
		}
		if err := add(data); err != nil {
			return nil, err
		}
	}
	for _, value := range values {
		if err := add(value); err != nil {
			return nil, err
		}
	}

	if len(serials) == 0 {
		return nil, nil
	}
	return serials, nil
}

// rejectRevoked returns a peer verification callback that fails the
// handshake when any presented certificate appears in a revocation list.
func rejectRevoked(revoked map[string]struct{}) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		for _, raw := range rawCerts {
			cert, err := x509.ParseCertificate(raw)
			if err != nil {
				return err
			}
			if _, ok := revoked[cert.SerialNumber.String()]; ok {
				return fmt.Errorf("%w: serial %s", errRevokedCert, cert.SerialNumber)
			}
		}
		return nil
	}
}
