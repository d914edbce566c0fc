package tokenguard

import (
	"context"
	"net/netip"
)

type clientIPKey struct{}

// WithClientIP records the caller's address on ctx for audit events. A
// parseable address is stored in canonical form (IPv4-mapped IPv6 unmapped);
// anything else is kept verbatim.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if addr, err := netip.ParseAddr(ip); err == nil {
		ip = addr.Unmap().String()
	}
	return context.WithValue(ctx, clientIPKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}
