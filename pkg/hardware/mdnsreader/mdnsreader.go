package mdnsreader

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/enbility/zeroconf/v3"

	"github.com/readerlink/readerlink-go/pkg/hardware"
	"github.com/readerlink/readerlink-go/pkg/reader"
)

const (
	// ServiceType is the mDNS service type readers advertise.
	ServiceType = "_readerlink._tcp"

	// Domain is the mDNS domain.
	Domain = "local."

	// DefaultScanWindow bounds a single discovery scan.
	DefaultScanWindow = 3 * time.Second
)

// endpoint is a resolved reader location from a scan.
type endpoint struct {
	addr  string
	label string
	model string
}

// Config holds the adapter options.
type Config struct {
	// ScanWindow bounds a single discovery scan. Default:
	// DefaultScanWindow.
	ScanWindow time.Duration

	// Interface restricts browsing to one network interface. All
	// interfaces when empty.
	Interface string

	// Logger for operational messages. Discards when nil.
	Logger *slog.Logger
}

// Adapter discovers and connects network readers via zeroconf.
type Adapter struct {
	scanWindow time.Duration
	iface      string
	logger     *slog.Logger

	// mu protects all fields below.
	mu sync.Mutex
	// endpoints maps serial to the location from the last scan.
	endpoints map[string]endpoint
	// connected is the live session, nil when idle.
	connected *reader.ConnectedReader
	conn      net.Conn
	// droppedByUs marks a disconnect we initiated ourselves.
	droppedByUs bool
	// scanCancel aborts the running scan, nil when idle. scanGen
	// identifies the scan it belongs to.
	scanCancel context.CancelFunc
	scanGen    int

	discoveredListeners map[int]hardware.ReadersDiscoveredFunc
	disconnectListeners map[int]hardware.UnexpectedDisconnectFunc
	nextListenerID      int
}

var _ hardware.Adapter = (*Adapter)(nil)

// New creates an mDNS reader adapter.
func New(cfg Config) *Adapter {
	a := &Adapter{
		scanWindow:          cfg.ScanWindow,
		iface:               cfg.Interface,
		logger:              cfg.Logger,
		endpoints:           make(map[string]endpoint),
		discoveredListeners: make(map[int]hardware.ReadersDiscoveredFunc),
		disconnectListeners: make(map[int]hardware.UnexpectedDisconnectFunc),
	}
	if a.scanWindow <= 0 {
		a.scanWindow = DefaultScanWindow
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}
	return a
}

func (a *Adapter) clientOptions() []zeroconf.ClientOption {
	var opts []zeroconf.ClientOption
	if a.iface != "" {
		if iface, err := net.InterfaceByName(a.iface); err == nil {
			opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
		}
	}
	return opts
}

// DiscoverReaders browses for reader services for the scan window and
// delivers the collected batch to the discovery listeners. A second
// call while a scan runs replaces the previous scan.
func (a *Adapter) DiscoverReaders(ctx context.Context, deviceType reader.DeviceType, method reader.DiscoveryMethod) error {
	scanCtx, cancel := context.WithTimeout(context.Background(), a.scanWindow)

	a.mu.Lock()
	if a.scanCancel != nil {
		a.scanCancel()
	}
	a.scanCancel = cancel
	a.scanGen++
	gen := a.scanGen
	a.mu.Unlock()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	a.logger.Debug("mdns scan started",
		"device_type", deviceType.String(), "method", method.String())

	go a.collectEntries(scanCtx, gen, entries, removed)
	go func() {
		_ = zeroconf.Browse(scanCtx, ServiceType, Domain, entries, removed, a.clientOptions()...)
	}()
	return nil
}

// collectEntries aggregates service entries by serial until the scan
// context ends, then delivers the batch.
func (a *Adapter) collectEntries(ctx context.Context, gen int, entries, removed chan *zeroconf.ServiceEntry) {
	found := make(map[string]reader.DiscoveredReader)
	eps := make(map[string]endpoint)
	var order []string

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				continue
			}
			d, ep := entryToReader(entry)
			if d.Serial == "" {
				continue
			}
			if _, seen := found[d.Serial]; !seen {
				order = append(order, d.Serial)
			}
			found[d.Serial] = d
			eps[d.Serial] = ep

		case entry, ok := <-removed:
			if !ok {
				continue
			}
			serial := txtValue(entry.Text, "serial")
			delete(found, serial)
			delete(eps, serial)

		case <-ctx.Done():
			batch := make([]reader.DiscoveredReader, 0, len(found))
			for _, serial := range order {
				if d, ok := found[serial]; ok {
					batch = append(batch, d)
				}
			}

			a.mu.Lock()
			if a.scanGen == gen {
				a.scanCancel = nil
			}
			for serial, ep := range eps {
				a.endpoints[serial] = ep
			}
			listeners := make([]hardware.ReadersDiscoveredFunc, 0, len(a.discoveredListeners))
			for _, fn := range a.discoveredListeners {
				listeners = append(listeners, fn)
			}
			a.mu.Unlock()

			// Aborted scans stay silent.
			if ctx.Err() == context.Canceled {
				return
			}
			for _, fn := range listeners {
				fn(batch)
			}
			return
		}
	}
}

// entryToReader decodes a service entry. TXT keys: serial, label, model.
func entryToReader(entry *zeroconf.ServiceEntry) (reader.DiscoveredReader, endpoint) {
	serial := txtValue(entry.Text, "serial")
	if serial == "" {
		serial = entry.Instance
	}
	d := reader.DiscoveredReader{
		Serial: serial,
		Label:  txtValue(entry.Text, "label"),
		Model:  txtValue(entry.Text, "model"),
	}

	var host string
	if len(entry.AddrIPv4) > 0 {
		host = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		host = entry.AddrIPv6[0].String()
	} else {
		host = strings.TrimSuffix(entry.HostName, ".")
	}
	ep := endpoint{
		addr:  net.JoinHostPort(host, fmt.Sprintf("%d", entry.Port)),
		label: d.Label,
		model: d.Model,
	}
	return d, ep
}

func txtValue(txt []string, key string) string {
	prefix := key + "="
	for _, record := range txt {
		if strings.HasPrefix(record, prefix) {
			return record[len(prefix):]
		}
	}
	return ""
}

// AbortDiscoverReaders cancels the scan window, if any.
func (a *Adapter) AbortDiscoverReaders(ctx context.Context) error {
	a.mu.Lock()
	cancel := a.scanCancel
	a.scanCancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// ConnectReader opens a TCP session to the endpoint the last scan
// resolved for serial. An existing session is dropped first.
func (a *Adapter) ConnectReader(ctx context.Context, serial string) (*reader.ConnectedReader, error) {
	a.mu.Lock()
	ep, ok := a.endpoints[serial]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", reader.ErrReaderNotFound, serial)
	}

	if err := a.DisconnectReader(ctx); err != nil {
		return nil, err
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", ep.addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", reader.ErrConnectFailed, serial, err)
	}

	connected := &reader.ConnectedReader{
		Serial: serial,
		Label:  ep.label,
		Model:  ep.model,
	}

	a.mu.Lock()
	a.connected = connected
	a.conn = conn
	a.droppedByUs = false
	a.mu.Unlock()

	go a.watchSession(conn, *connected)

	a.logger.Info("mdns reader connected", "serial", serial, "addr", ep.addr)
	return connected, nil
}

// watchSession blocks on the session until it drops, then reports an
// unexpected disconnect unless we closed it ourselves.
func (a *Adapter) watchSession(conn net.Conn, lost reader.ConnectedReader) {
	buf := make([]byte, 256)
	for {
		if _, err := conn.Read(buf); err != nil {
			break
		}
	}

	a.mu.Lock()
	if a.conn != conn {
		a.mu.Unlock()
		return
	}
	a.connected = nil
	a.conn = nil
	if a.droppedByUs {
		a.droppedByUs = false
		a.mu.Unlock()
		return
	}
	listeners := make([]hardware.UnexpectedDisconnectFunc, 0, len(a.disconnectListeners))
	for _, fn := range a.disconnectListeners {
		listeners = append(listeners, fn)
	}
	a.mu.Unlock()

	a.logger.Warn("mdns reader lost", "serial", lost.Serial)
	for _, fn := range listeners {
		fn(lost)
	}
}

// DisconnectReader closes the current session. No-op when idle.
func (a *Adapter) DisconnectReader(ctx context.Context) error {
	a.mu.Lock()
	conn := a.conn
	if conn != nil {
		a.droppedByUs = true
	}
	a.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

// ConnectedReader returns the reader of the live session, or nil.
func (a *Adapter) ConnectedReader(ctx context.Context) (*reader.ConnectedReader, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected == nil {
		return nil, nil
	}
	c := *a.connected
	return &c, nil
}

// AddReadersDiscoveredListener registers a discovery-batch listener.
func (a *Adapter) AddReadersDiscoveredListener(fn hardware.ReadersDiscoveredFunc) hardware.Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextListenerID
	a.nextListenerID++
	a.discoveredListeners[id] = fn
	return &subscription{remove: func() {
		a.mu.Lock()
		delete(a.discoveredListeners, id)
		a.mu.Unlock()
	}}
}

// AddUnexpectedDisconnectListener registers an unsolicited-disconnect
// listener.
func (a *Adapter) AddUnexpectedDisconnectListener(fn hardware.UnexpectedDisconnectFunc) hardware.Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextListenerID
	a.nextListenerID++
	a.disconnectListeners[id] = fn
	return &subscription{remove: func() {
		a.mu.Lock()
		delete(a.disconnectListeners, id)
		a.mu.Unlock()
	}}
}

type subscription struct {
	once   sync.Once
	remove func()
}

func (s *subscription) Remove() {
	s.once.Do(s.remove)
}

// Advertise registers an mDNS service for a reader listening on port.
// Shutdown the returned server to withdraw the announcement.
func Advertise(serial, label, model string, port int) (*zeroconf.Server, error) {
	txt := []string{
		"serial=" + serial,
		"label=" + label,
		"model=" + model,
	}
	server, err := zeroconf.Register(serial, ServiceType, Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register reader service: %w", err)
	}
	return server, nil
}
