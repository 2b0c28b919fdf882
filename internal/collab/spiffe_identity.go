package collab

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
)

// SPIFFEIdentity verifies a dispatch request's caller SVID against a
// SPIRE agent over an X509Source connection. It satisfies
// guardrail.CallerVerifier so PowerLimiter can confirm a dispatch
// request carries a valid SVID before a Runner call is allowed.
type SPIFFEIdentity struct {
	source *workloadapi.X509Source
}

// NewSPIFFEIdentity connects to the SPIRE agent at socketPath, timing out
// after 3s so a missing agent doesn't block kernel startup indefinitely.
func NewSPIFFEIdentity(socketPath string) (*SPIFFEIdentity, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	source, err := workloadapi.NewX509Source(ctx, workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)))
	if err != nil {
		return nil, fmt.Errorf("collab: connect to SPIRE agent: %w", err)
	}

	slog.Info("collab: connected to SPIRE agent", "socket_path", socketPath)
	return &SPIFFEIdentity{source: source}, nil
}

// VerifySVID confirms spiffeID matches the workload's current SVID and
// returns a stable 64-bit hash of its leaf certificate.
func (s *SPIFFEIdentity) VerifySVID(spiffeID string) (uint64, error) {
	id, err := spiffeid.FromString(spiffeID)
	if err != nil {
		return 0, fmt.Errorf("collab: invalid SPIFFE ID: %w", err)
	}

	svid, err := s.source.GetX509SVID()
	if err != nil {
		return 0, fmt.Errorf("collab: get SVID: %w", err)
	}
	if svid.ID.String() != id.String() {
		return 0, fmt.Errorf("collab: SPIFFE ID mismatch: expected %s, got %s", id, svid.ID)
	}

	hash := sha256.Sum256(svid.Certificates[0].Raw)
	var result uint64
	for i := 0; i < 8; i++ {
		result = (result << 8) | uint64(hash[i])
	}
	return result, nil
}

// GetTLSConfig returns an mTLS client config authorized against any SVID
// in the trust domain, for a Runner that dials a remote execution surface.
func (s *SPIFFEIdentity) GetTLSConfig() *tls.Config {
	return tlsconfig.MTLSClientConfig(s.source, s.source, tlsconfig.AuthorizeAny())
}

func (s *SPIFFEIdentity) Close() error {
	return s.source.Close()
}

// GenerateSPIFFEID builds this kernel's own agent identity string.
func GenerateSPIFFEID(trustDomain, agentID string) string {
	return fmt.Sprintf("spiffe://%s/agent/%s", trustDomain, agentID)
}
