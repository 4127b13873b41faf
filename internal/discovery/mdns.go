package discovery

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/hashicorp/mdns"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const ServiceType = "_canvas._tcp"

// Advertiser announces the server on the local network
type Advertiser struct {
	server *mdns.Server
	log    *zap.Logger
}

func Advertise(instance string, port int, log *zap.Logger) (*Advertiser, error) {
	if instance == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, errors.Wrap(err, "get hostname")
		}
		instance = host
	}

	service, err := newService(instance, port, localIPv4s())
	if err != nil {
		return nil, err
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, errors.Wrap(err, "start mdns server")
	}

	log.Info("advertising on mdns",
		zap.String("instance", instance),
		zap.String("service", ServiceType),
		zap.Int("port", port),
	)
	return &Advertiser{server: server, log: log}, nil
}

func (a *Advertiser) Shutdown() error {
	a.log.Info("mdns advertisement stopped")
	return a.server.Shutdown()
}

func newService(instance string, port int, ips []net.IP) (*mdns.MDNSService, error) {
	service, err := mdns.NewMDNSService(
		instance,
		ServiceType,
		"",
		"",
		port,
		ips,
		[]string{"path=/ws"},
	)
	if err != nil {
		return nil, errors.Wrap(err, "create mdns service")
	}
	return service, nil
}

// Browse lists host:port pairs of servers answering within timeout
func Browse(timeout time.Duration) ([]string, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	var found []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range entries {
			if e.AddrV4 == nil || e.Port == 0 {
				continue
			}
			found = append(found, fmt.Sprintf("%s:%d", e.AddrV4, e.Port))
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-done

	if err != nil {
		return nil, errors.Wrap(err, "mdns query")
	}
	return found, nil
}

func localIPv4s() []net.IP {
	var ips []net.IP
	ifaces, _ := net.Interfaces()
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := iface.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				ips = append(ips, ipnet.IP.To4())
			}
		}
	}
	if len(ips) == 0 {
		ips = append(ips, net.IPv4(127, 0, 0, 1))
	}
	return ips
}
