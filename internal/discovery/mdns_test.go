// ABOUTME: Tests for mDNS discovery
// ABOUTME: Entry parsing, URLs and manager lifecycle without network queries
package discovery

import (
	"net"
	"testing"

	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManager(t *testing.T) {
	mgr := NewManager(Config{Instance: "studio", Port: 8080})
	require.NotNil(t, mgr)
	assert.Equal(t, "/ws", mgr.config.Path)
	assert.NotNil(t, mgr.Services())

	mgr.Stop()
	mgr.Stop()
	select {
	case <-mgr.ctx.Done():
	default:
		t.Fatal("context not cancelled after Stop")
	}
}

func TestServiceFromEntry(t *testing.T) {
	tests := []struct {
		name  string
		entry *mdns.ServiceEntry
		want  *Service
	}{
		{
			name: "with path",
			entry: &mdns.ServiceEntry{
				Name:       "studio._resonate-jam._tcp.local.",
				AddrV4:     net.IPv4(192, 168, 1, 20),
				Port:       8080,
				InfoFields: []string{"path=/signal"},
			},
			want: &Service{Name: "studio", Host: "192.168.1.20", Port: 8080, Path: "/signal"},
		},
		{
			name: "default path",
			entry: &mdns.ServiceEntry{
				Name:   "garage._resonate-jam._tcp.local.",
				AddrV4: net.IPv4(10, 0, 0, 5),
				Port:   9000,
			},
			want: &Service{Name: "garage", Host: "10.0.0.5", Port: 9000, Path: "/ws"},
		},
		{
			name:  "no ipv4",
			entry: &mdns.ServiceEntry{Name: "x._resonate-jam._tcp.local.", Port: 8080},
		},
		{
			name:  "other service",
			entry: &mdns.ServiceEntry{Name: "x._http._tcp.local.", AddrV4: net.IPv4(10, 0, 0, 1), Port: 80},
		},
		{
			name: "nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := serviceFromEntry(tt.entry)
			if tt.want == nil {
				assert.False(t, ok)
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServiceURL(t *testing.T) {
	svc := &Service{Host: "192.168.1.20", Port: 8080, Path: "/ws"}
	assert.Equal(t, "ws://192.168.1.20:8080/ws", svc.URL())

	v6 := &Service{Host: "fe80::1", Port: 8080, Path: "/ws"}
	assert.Equal(t, "ws://[fe80::1]:8080/ws", v6.URL())
}

func TestTxtRecords(t *testing.T) {
	assert.Equal(t, []string{"path=/ws"}, txtRecords("/ws"))
}
