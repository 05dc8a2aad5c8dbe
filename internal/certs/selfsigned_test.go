package certs

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"slices"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	cert, err := Generate(24 * time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(cert.TLSCert.Certificate) == 0 {
		t.Fatal("no certificate data")
	}

	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	if got := x509Cert.NotAfter.Sub(x509Cert.NotBefore); got != 24*time.Hour {
		t.Errorf("validity: got %v, want 24h", got)
	}
	if x509Cert.Subject.CommonName != "sonar" {
		t.Errorf("common name: got %q, want sonar", x509Cert.Subject.CommonName)
	}
	if !slices.Contains(x509Cert.DNSNames, "localhost") {
		t.Error("expected localhost in DNS names")
	}
	if cert.Fingerprint != sha256.Sum256(cert.TLSCert.Certificate[0]) {
		t.Error("fingerprint mismatch")
	}
	if cert.FingerprintBase64() == "" {
		t.Error("FingerprintBase64 returned empty string")
	}
}

func TestGenerateDefaultValidity(t *testing.T) {
	t.Parallel()
	cert, err := Generate(0)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	if got := x509Cert.NotAfter.Sub(x509Cert.NotBefore); got != DefaultValidity {
		t.Errorf("validity: got %v, want %v", got, DefaultValidity)
	}
}

func TestTLSConfig(t *testing.T) {
	t.Parallel()
	cert, err := Generate(time.Hour)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	cfg := cert.TLSConfig("sonar-audio")
	if !slices.Equal(cfg.NextProtos, []string{"sonar-audio"}) {
		t.Errorf("next protos: got %v", cfg.NextProtos)
	}
	if cfg.MinVersion != tls.VersionTLS13 || len(cfg.Certificates) != 1 {
		t.Errorf("got min version %x with %d certificates", cfg.MinVersion, len(cfg.Certificates))
	}
}
