package server

import (
	"log/slog"

	"github.com/SchirmForge/ssh-tunnel-manager/internal/appconfig"
	"github.com/SchirmForge/ssh-tunnel-manager/internal/tlscert"
)

// ensureTLS loads or generates the daemon's TLS material and records
// the fingerprint beside the other daemon files.
func ensureTLS(cfg appconfig.DaemonConfig) (*tlscert.Material, error) {
	material, err := tlscert.Ensure(cfg.TLSCertPath, cfg.TLSKeyPath, cfg.BindHost)
	if err != nil {
		return nil, err
	}
	if err := appconfig.WriteFingerprintFile(material.Fingerprint); err != nil {
		slog.Warn("failed to record TLS fingerprint", "error", err)
	}
	slog.Info("TLS material ready", "fingerprint", material.Fingerprint)
	return material, nil
}
