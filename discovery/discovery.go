// Package discovery announces the signaling relay on the local network and
// lets operator clients find it without a configured URL.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	ServiceType = "_teleop-relay._tcp"
	Domain      = "local."

	txtPath = "path="
)

var ErrNotFound = errors.New("no signaling relay found")

// Advertise announces a relay listening on port. The returned function
// withdraws the announcement.
func Advertise(instance string, port int, path string) (func(), error) {
	server, err := zeroconf.Register(
		instance,
		ServiceType,
		Domain,
		port,
		[]string{txtPath + path},
		nil, // All interfaces
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logrus.WithField("instance", instance).Infof("Advertising relay as %s on port %d", ServiceType, port)

	return server.Shutdown, nil
}

// Browse returns the websocket URL of the first relay found before ctx
// expires.
func Browse(ctx context.Context) (*url.URL, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, ServiceType, Domain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ErrNotFound

		case entry, ok := <-entries:
			if !ok {
				return nil, ErrNotFound
			}
			if entry == nil {
				continue
			}

			u, err := EntryURL(entry)
			if err != nil {
				logrus.WithError(err).Debugf("Ignoring service entry %s", entry.Instance)
				continue
			}

			logrus.Infof("Discovered relay %s at %s", entry.Instance, u)

			return u, nil
		}
	}
}

// EntryURL builds the relay URL advertised by a service entry.
func EntryURL(entry *zeroconf.ServiceEntry) (*url.URL, error) {
	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return nil, errors.New("entry has no address")
	}

	path := "/connect"
	for _, txt := range entry.Text {
		if strings.HasPrefix(txt, txtPath) {
			path = strings.TrimPrefix(txt, txtPath)
		}
	}

	return &url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)),
		Path:   path,
	}, nil
}
