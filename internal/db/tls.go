package db

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"hash/fnv"
	"os"

	apperrors "github.com/lupppig/dbu/internal/errors"
)

// TLS modes, named the way libpq names them.
const (
	TLSDisable    = "disable"
	TLSRequire    = "require"
	TLSVerifyCA   = "verify-ca"
	TLSVerifyFull = "verify-full"
)

type TLSConfig struct {
	Enabled    bool   `json:"enabled"`
	Mode       string `json:"mode,omitempty"`
	CACert     string `json:"ca_cert,omitempty"`
	ClientCert string `json:"client_cert,omitempty"`
	ClientKey  string `json:"client_key,omitempty"`
}

// Validate rejects option combinations no engine can honour.
func (t TLSConfig) Validate() error {
	if !t.Enabled {
		if (t.Mode != "" && t.Mode != TLSDisable) || t.CACert != "" || t.ClientCert != "" || t.ClientKey != "" {
			return apperrors.New(apperrors.TypeConfig, "TLS options given without --tls", "Add --tls to enable an encrypted connection.")
		}
		return nil
	}
	switch t.Mode {
	case "", TLSRequire, TLSVerifyCA, TLSVerifyFull:
	case TLSDisable:
		return apperrors.New(apperrors.TypeConfig, "--tls is enabled but --tls-mode is set to disable", "Drop --tls or pick another --tls-mode.")
	default:
		return apperrors.New(apperrors.TypeConfig,
			fmt.Sprintf("unsupported TLS mode: %s", t.Mode),
			"Use require, verify-ca or verify-full.")
	}
	if (t.ClientCert == "") != (t.ClientKey == "") {
		return apperrors.New(apperrors.TypeConfig, "both --tls-client-cert and --tls-client-key are required for mutual TLS", "")
	}
	return nil
}

// EffectiveMode is Mode with the enabled-but-unset case resolved to require.
func (t TLSConfig) EffectiveMode() string {
	if !t.Enabled {
		return TLSDisable
	}
	if t.Mode == "" {
		return TLSRequire
	}
	return t.Mode
}

func (t TLSConfig) mutual() bool {
	return t.ClientCert != "" && t.ClientKey != ""
}

// clientConfig builds a crypto/tls config for drivers that take one directly.
// require encrypts without verifying, verify-ca checks the chain only and
// verify-full also checks the host name.
func (t TLSConfig) clientConfig(host string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	var roots *x509.CertPool
	if t.CACert != "" {
		pem, err := os.ReadFile(t.CACert)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeResource, "cannot read TLS CA certificate", "Check the --tls-ca-cert path and permissions.")
		}
		roots = x509.NewCertPool()
		if !roots.AppendCertsFromPEM(pem) {
			return nil, apperrors.New(apperrors.TypeAuth, "TLS CA certificate holds no usable PEM block", "Provide a PEM-encoded CA certificate.")
		}
		cfg.RootCAs = roots
	}

	if t.mutual() {
		pair, err := tls.LoadX509KeyPair(t.ClientCert, t.ClientKey)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.TypeAuth, "cannot load TLS client certificate", "Check that the certificate and key files match.")
		}
		cfg.Certificates = []tls.Certificate{pair}
	}

	switch t.EffectiveMode() {
	case TLSRequire:
		cfg.InsecureSkipVerify = true
	case TLSVerifyCA:
		cfg.InsecureSkipVerify = true
		cfg.VerifyPeerCertificate = verifyChain(roots)
	case TLSVerifyFull:
		cfg.ServerName = host
	}
	return cfg, nil
}

// verifyChain checks the presented chain against roots without matching the host name.
// A nil pool falls back to the system roots.
func verifyChain(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(raw [][]byte, _ [][]*x509.Certificate) error {
		if len(raw) == 0 {
			return errors.New("server presented no certificate")
		}
		certs := make([]*x509.Certificate, 0, len(raw))
		for _, r := range raw {
			c, err := x509.ParseCertificate(r)
			if err != nil {
				return err
			}
			certs = append(certs, c)
		}
		opts := x509.VerifyOptions{Roots: roots, Intermediates: x509.NewCertPool()}
		for _, c := range certs[1:] {
			opts.Intermediates.AddCert(c)
		}
		_, err := certs[0].Verify(opts)
		return err
	}
}

// registryKey names a TLS config in a driver-wide registry. Equal settings share a name.
func (t TLSConfig) registryKey(host string) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s", t.EffectiveMode(), t.CACert, t.ClientCert, t.ClientKey, host)
	return fmt.Sprintf("dbu-%x", h.Sum64())
}
