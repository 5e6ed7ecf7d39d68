package http

import (
	"log/slog"
	"net/netip"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// proxyHeaders are checked in order after X-Forwarded-For.
var proxyHeaders = []string{
	"X-Real-IP",
	"CF-Connecting-IP",
	"True-Client-IP",
	"X-Client-IP",
}

// getClientIP recovers the original visitor address behind any chain of
// proxies. Private and loopback addresses are never trusted as the visitor;
// when nothing public can be found the loopback placeholder keeps the record
// geo-less rather than dropping it.
func getClientIP(c *fiber.Ctx, logger *slog.Logger) string {
	if ip := selectPreferredIP(strings.Split(c.Get("X-Forwarded-For"), ",")); ip != "" {
		return ip
	}

	for _, header := range proxyHeaders {
		if value := c.Get(header); value != "" {
			if ip := selectPreferredIP([]string{value}); ip != "" {
				return ip
			}
		}
	}

	if forwarded := c.Get("Forwarded"); forwarded != "" {
		if ip := selectPreferredIP(parseForwardedHeader(forwarded)); ip != "" {
			return ip
		}
	}

	if ip := selectPreferredIP([]string{c.Context().RemoteAddr().String(), c.IP()}); ip != "" {
		return ip
	}

	logger.Debug("No public client address on request", slog.String("path", c.Path()))
	return "127.0.0.1"
}

// selectPreferredIP picks the first public IPv4 from the candidates, falling
// back to the first public IPv6.
func selectPreferredIP(values []string) string {
	var ipv6Fallback string

	for _, raw := range values {
		addr, ok := normalizeAddr(raw)
		if !ok || !isPublicAddr(addr) {
			continue
		}

		if addr.Is4() {
			return addr.String()
		}
		if ipv6Fallback == "" {
			ipv6Fallback = addr.String()
		}
	}

	return ipv6Fallback
}

func isPublicAddr(addr netip.Addr) bool {
	return !(addr.IsPrivate() ||
		addr.IsLoopback() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsUnspecified())
}

// normalizeAddr parses one candidate that may carry quotes, brackets, a port,
// or a zone identifier.
func normalizeAddr(raw string) (netip.Addr, bool) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"")
	if clean == "" {
		return netip.Addr{}, false
	}

	if percent := strings.Index(clean, "%"); percent != -1 {
		clean = clean[:percent]
	}

	if addrPort, err := netip.ParseAddrPort(clean); err == nil {
		return addrPort.Addr().Unmap(), true
	}

	clean = strings.TrimSuffix(strings.TrimPrefix(clean, "["), "]")
	if addr, err := netip.ParseAddr(clean); err == nil {
		return addr.Unmap(), true
	}

	return netip.Addr{}, false
}

// parseForwardedHeader extracts the for= members of an RFC 7239 header.
func parseForwardedHeader(header string) []string {
	var candidates []string

	for _, entry := range strings.Split(header, ",") {
		for _, part := range strings.Split(entry, ";") {
			part = strings.TrimSpace(part)
			if strings.HasPrefix(strings.ToLower(part), "for=") {
				candidates = append(candidates, part[len("for="):])
			}
		}
	}

	return candidates
}
