package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"testing"
	"time"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	cert, err := Generate(7 * 24 * time.Hour)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	if len(cert.TLSCert.Certificate) == 0 {
		t.Fatal("no certificate data")
	}

	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}

	validity := x509Cert.NotAfter.Sub(x509Cert.NotBefore)
	if validity > 7*24*time.Hour+2*time.Minute {
		t.Errorf("validity too long: %v", validity)
	}

	if x509Cert.NotAfter.Before(time.Now()) {
		t.Error("cert is already expired")
	}

	expectedFingerprint := sha256.Sum256(cert.TLSCert.Certificate[0])
	if cert.Fingerprint != expectedFingerprint {
		t.Error("fingerprint mismatch")
	}

	if cert.FingerprintBase64() == "" {
		t.Error("FingerprintBase64 returned empty string")
	}

	found := false
	for _, name := range x509Cert.DNSNames {
		if name == "localhost" {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected localhost in DNS names")
	}
}

func TestGenerateDefaultValidity(t *testing.T) {
	t.Parallel()
	cert, err := Generate(0)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	x509Cert, err := x509.ParseCertificate(cert.TLSCert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse cert: %v", err)
	}

	validity := x509Cert.NotAfter.Sub(x509Cert.NotBefore)
	if validity < 29*24*time.Hour || validity > 31*24*time.Hour {
		t.Errorf("expected ~30 day default validity, got: %v", validity)
	}
}
