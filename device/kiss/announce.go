package kiss

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/brutella/dnssd"
	"github.com/charmbracelet/log"
)

// ServiceType is the DNS-SD service type of a KISS TNC on TCP.
const ServiceType = "_kiss-tnc._tcp"

// DefaultServiceName is "kissgate on <hostname>", or just "kissgate" when
// the hostname is unknown.
func DefaultServiceName() string {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "kissgate"
	}

	// Some systems return an FQDN
	hostname, _, _ = strings.Cut(hostname, ".")

	return "kissgate on " + hostname
}

// Announce publishes the KISS TCP port on the local network until ctx is
// cancelled. The responder runs in its own goroutine.
func Announce(ctx context.Context, name string, port int, logger *log.Logger) error {
	if name == "" {
		name = DefaultServiceName()
	}

	sv, err := dnssd.NewService(dnssd.Config{
		Name: name,
		Type: ServiceType,
		Port: port,
	})
	if err != nil {
		return fmt.Errorf("failed to create DNS-SD service: %w", err)
	}

	rp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("failed to create DNS-SD responder: %w", err)
	}

	if _, err := rp.Add(sv); err != nil {
		return fmt.Errorf("failed to add DNS-SD service: %w", err)
	}

	logger.Info("Announcing KISS TCP", "name", name, "port", port)

	go func() {
		if err := rp.Respond(ctx); err != nil && ctx.Err() == nil {
			logger.Error("DNS-SD responder failed", "err", err)
		}
	}()
	return nil
}
