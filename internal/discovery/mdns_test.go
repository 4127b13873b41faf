package discovery

import (
	"net"
	"testing"
)

func TestNewService(t *testing.T) {
	svc, err := newService("canvas-test", 8080, []net.IP{net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("Failed to build service: %v", err)
	}
	if svc.Port != 8080 {
		t.Errorf("Expected port 8080, got %d", svc.Port)
	}
	if svc.Service != ServiceType {
		t.Errorf("Expected service %s, got %s", ServiceType, svc.Service)
	}
	if svc.Instance != "canvas-test" {
		t.Errorf("Expected instance canvas-test, got %s", svc.Instance)
	}
	if len(svc.TXT) != 1 || svc.TXT[0] != "path=/ws" {
		t.Errorf("Unexpected TXT records: %v", svc.TXT)
	}
}

func TestLocalIPv4s(t *testing.T) {
	ips := localIPv4s()
	if len(ips) == 0 {
		t.Fatal("Expected at least the loopback fallback")
	}
	for _, ip := range ips {
		if ip.To4() == nil {
			t.Errorf("Expected IPv4, got %v", ip)
		}
	}
}
