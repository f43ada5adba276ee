// ABOUTME: mDNS discovery of rendezvous services on the local network
// ABOUTME: The rendezvous advertises itself and clients browse for it
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Resonate-Protocol/resonate-jam/internal/log"
	"github.com/hashicorp/mdns"
)

const (
	// ServiceType is the DNS-SD type advertised by the rendezvous
	ServiceType = "_resonate-jam._tcp"

	defaultPath         = "/ws"
	defaultQueryTimeout = 3 * time.Second
)

// Config holds discovery configuration
type Config struct {
	Instance string // advertised instance name
	Port     int
	Path     string // signaling path, defaults to /ws
}

// Manager handles mDNS operations
type Manager struct {
	config   Config
	ctx      context.Context
	cancel   context.CancelFunc
	services chan *Service
}

// Service describes a discovered rendezvous
type Service struct {
	Name string
	Host string
	Port int
	Path string
}

// URL returns the signaling websocket URL of the service
func (s *Service) URL() string {
	return fmt.Sprintf("ws://%s%s", net.JoinHostPort(s.Host, strconv.Itoa(s.Port)), s.Path)
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Path == "" {
		config.Path = defaultPath
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Manager{
		config:   config,
		ctx:      ctx,
		cancel:   cancel,
		services: make(chan *Service, 10),
	}
}

// Advertise announces the rendezvous until Stop is called
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(
		m.config.Instance,
		ServiceType,
		"",
		"",
		m.config.Port,
		ips,
		txtRecords(m.config.Path),
	)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	log.Infof("Advertising mDNS service: %s on port %d (type: %s)", m.config.Instance, m.config.Port, ServiceType)

	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()

	return nil
}

// Browse searches for rendezvous services in the background. Results
// arrive on Services.
func (m *Manager) Browse() {
	go m.browseLoop()
}

func (m *Manager) browseLoop() {
	for {
		select {
		case <-m.ctx.Done():
			return
		default:
		}

		entries := make(chan *mdns.ServiceEntry, 10)
		done := make(chan struct{})

		go func() {
			defer close(done)
			for entry := range entries {
				svc, ok := serviceFromEntry(entry)
				if !ok {
					continue
				}
				log.Debugf("Discovered rendezvous: %s at %s", svc.Name, svc.URL())

				select {
				case m.services <- svc:
				case <-m.ctx.Done():
				}
			}
		}()

		if err := mdns.Query(queryParams(entries, defaultQueryTimeout)); err != nil {
			log.Warnf("mDNS query failed: %v", err)
		}
		close(entries)
		<-done
	}
}

// Services returns the channel of discovered services
func (m *Manager) Services() <-chan *Service {
	return m.services
}

// Stop stops advertising and browsing
func (m *Manager) Stop() {
	m.cancel()
}

// Find runs one query and returns the first rendezvous that answers
func Find(ctx context.Context, timeout time.Duration) (*Service, error) {
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	entries := make(chan *mdns.ServiceEntry, 10)
	found := make(chan *Service, 1)

	go func() {
		for entry := range entries {
			if svc, ok := serviceFromEntry(entry); ok {
				select {
				case found <- svc:
				default:
				}
			}
		}
	}()

	queryErr := make(chan error, 1)
	go func() {
		queryErr <- mdns.Query(queryParams(entries, timeout))
		close(entries)
	}()

	select {
	case svc := <-found:
		return svc, nil
	case err := <-queryErr:
		if err != nil {
			return nil, fmt.Errorf("mDNS query failed: %w", err)
		}
		select {
		case svc := <-found:
			return svc, nil
		default:
			return nil, fmt.Errorf("no %s service found", ServiceType)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func queryParams(entries chan<- *mdns.ServiceEntry, timeout time.Duration) *mdns.QueryParam {
	return &mdns.QueryParam{
		Service:     ServiceType,
		Domain:      "local",
		Timeout:     timeout,
		Entries:     entries,
		DisableIPv6: true,
	}
}

func txtRecords(path string) []string {
	return []string{"path=" + path}
}

// serviceFromEntry converts an mDNS answer into a Service. Entries
// without an IPv4 address are skipped.
func serviceFromEntry(entry *mdns.ServiceEntry) (*Service, bool) {
	if entry == nil || entry.AddrV4 == nil || entry.Port == 0 {
		return nil, false
	}
	if !strings.Contains(entry.Name, ServiceType) {
		return nil, false
	}

	svc := &Service{
		Name: strings.TrimSuffix(entry.Name, "."+ServiceType+".local."),
		Host: entry.AddrV4.String(),
		Port: entry.Port,
		Path: defaultPath,
	}
	for _, field := range entry.InfoFields {
		if v, ok := strings.CutPrefix(field, "path="); ok && v != "" {
			svc.Path = v
		}
	}
	return svc, true
}

// getLocalIPs returns local IPv4 addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
