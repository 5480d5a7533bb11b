package bluez

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/readerlink/readerlink-go/pkg/hardware"
	"github.com/readerlink/readerlink-go/pkg/reader"
)

const (
	busName      = "org.bluez"
	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"
	propsIface   = "org.freedesktop.DBus.Properties"
	objMgrIface  = "org.freedesktop.DBus.ObjectManager"

	// DefaultAdapterPath is the BlueZ adapter used unless overridden.
	DefaultAdapterPath = "/org/bluez/hci0"

	// DefaultScanWindow is how long a discovery scan collects devices
	// before the batch is delivered.
	DefaultScanWindow = 5 * time.Second
)

// ErrNoSystemBus wraps system bus connection failures.
var ErrNoSystemBus = errors.New("bluez: system bus unavailable")

// deviceObjectPath converts an address like "AA:BB:CC:DD:EE:FF" to
// "<adapter>/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapterPath, addr string) dbus.ObjectPath {
	escaped := strings.ReplaceAll(addr, ":", "_")
	return dbus.ObjectPath(adapterPath + "/dev_" + escaped)
}

// Config holds the adapter options.
type Config struct {
	// AdapterPath is the BlueZ adapter object path. Default:
	// DefaultAdapterPath.
	AdapterPath string

	// ScanWindow bounds a single discovery scan. Default:
	// DefaultScanWindow.
	ScanWindow time.Duration

	// Logger for operational messages. Discards when nil.
	Logger *slog.Logger
}

// Adapter is a hardware adapter backed by a BlueZ D-Bus connection.
type Adapter struct {
	conn        *dbus.Conn
	adapterPath string
	scanWindow  time.Duration
	logger      *slog.Logger

	// mu protects all fields below.
	mu sync.Mutex
	// connected is the reader we hold a connection to, or nil.
	connected *reader.ConnectedReader
	// connectedPath is the device object path for connected.
	connectedPath dbus.ObjectPath
	// droppedByUs marks a disconnect we requested ourselves so the
	// PropertiesChanged watcher does not report it as unexpected.
	droppedByUs bool
	// scanCancel aborts the running scan window, nil when idle.
	scanCancel context.CancelFunc

	discoveredListeners map[int]hardware.ReadersDiscoveredFunc
	disconnectListeners map[int]hardware.UnexpectedDisconnectFunc
	nextListenerID      int

	signals chan *dbus.Signal
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ hardware.Adapter = (*Adapter)(nil)

// New connects to the system bus and verifies BlueZ is present.
func New(cfg Config) (*Adapter, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoSystemBus, err)
	}
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("list bus names: %w", err)
	}
	found := false
	for _, n := range names {
		if n == busName {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, errors.New("org.bluez not found on system bus, is bluetooth.service running?")
	}

	a := &Adapter{
		conn:                conn,
		adapterPath:         cfg.AdapterPath,
		scanWindow:          cfg.ScanWindow,
		logger:              cfg.Logger,
		discoveredListeners: make(map[int]hardware.ReadersDiscoveredFunc),
		disconnectListeners: make(map[int]hardware.UnexpectedDisconnectFunc),
		signals:             make(chan *dbus.Signal, 16),
		done:                make(chan struct{}),
	}
	if a.adapterPath == "" {
		a.adapterPath = DefaultAdapterPath
	}
	if a.scanWindow <= 0 {
		a.scanWindow = DefaultScanWindow
	}
	if a.logger == nil {
		a.logger = slog.New(slog.DiscardHandler)
	}

	conn.BusObject().Call(
		"org.freedesktop.DBus.AddMatch", 0,
		"type='signal',interface='"+propsIface+"',member='PropertiesChanged',path_namespace='/org/bluez'",
	)
	conn.Signal(a.signals)

	a.wg.Add(1)
	go a.watchSignals()

	return a, nil
}

// Close stops the signal watcher and releases the bus connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	if a.scanCancel != nil {
		a.scanCancel()
		a.scanCancel = nil
	}
	a.mu.Unlock()

	close(a.done)
	a.conn.RemoveSignal(a.signals)
	err := a.conn.Close()
	a.wg.Wait()
	return err
}

// DiscoverReaders powers the adapter, starts a BlueZ discovery and
// collects devices for the scan window. The batch is delivered through
// the registered listeners ordered strongest RSSI first. A second call
// while a scan runs replaces the previous scan.
func (a *Adapter) DiscoverReaders(ctx context.Context, deviceType reader.DeviceType, method reader.DiscoveryMethod) error {
	transport := "le"
	if method == reader.MethodBluetoothScan {
		transport = "auto"
	}

	obj := a.conn.Object(busName, dbus.ObjectPath(a.adapterPath))
	if err := obj.Call(propsIface+".Set", 0, adapterIface, "Powered", dbus.MakeVariant(true)).Err; err != nil {
		return fmt.Errorf("power adapter: %w", err)
	}
	filter := map[string]dbus.Variant{
		"Transport":     dbus.MakeVariant(transport),
		"DuplicateData": dbus.MakeVariant(false),
	}
	if err := obj.Call(adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		return fmt.Errorf("set discovery filter: %w", err)
	}
	if err := obj.Call(adapterIface+".StartDiscovery", 0).Err; err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}

	scanCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	if a.scanCancel != nil {
		a.scanCancel()
	}
	a.scanCancel = cancel
	a.mu.Unlock()

	a.logger.Debug("bluez scan started",
		"device_type", deviceType.String(), "method", method.String())

	a.wg.Add(1)
	go a.scanWorker(scanCtx)
	return nil
}

// scanWorker waits out the scan window, stops discovery and delivers
// whatever BlueZ has collected. A cancelled scan delivers nothing.
func (a *Adapter) scanWorker(ctx context.Context) {
	defer a.wg.Done()

	select {
	case <-ctx.Done():
		a.stopDiscovery()
		return
	case <-a.done:
		a.stopDiscovery()
		return
	case <-time.After(a.scanWindow):
	}
	a.stopDiscovery()

	batch, err := a.collectDevices()
	if err != nil {
		a.logger.Warn("bluez device collection failed", "err", err)
		return
	}

	a.mu.Lock()
	if a.scanCancel != nil {
		a.scanCancel()
		a.scanCancel = nil
	}
	listeners := make([]hardware.ReadersDiscoveredFunc, 0, len(a.discoveredListeners))
	for _, fn := range a.discoveredListeners {
		listeners = append(listeners, fn)
	}
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(batch)
	}
}

func (a *Adapter) stopDiscovery() {
	obj := a.conn.Object(busName, dbus.ObjectPath(a.adapterPath))
	if err := obj.Call(adapterIface+".StopDiscovery", 0).Err; err != nil {
		a.logger.Debug("stop discovery", "err", err)
	}
}

// collectDevices reads the object tree and turns Device1 entries under
// our adapter into a discovery batch sorted by RSSI.
func (a *Adapter) collectDevices() ([]reader.DiscoveredReader, error) {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	root := a.conn.Object(busName, "/")
	if err := root.Call(objMgrIface+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}

	var batch []reader.DiscoveredReader
	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), a.adapterPath+"/") {
			continue
		}
		d := reader.DiscoveredReader{}
		if v, ok := props["Address"]; ok {
			d.Serial, _ = v.Value().(string)
		}
		if d.Serial == "" {
			continue
		}
		if v, ok := props["Alias"]; ok {
			d.Label, _ = v.Value().(string)
		}
		if v, ok := props["Name"]; ok && d.Label == "" {
			d.Label, _ = v.Value().(string)
		}
		if v, ok := props["Modalias"]; ok {
			d.Model, _ = v.Value().(string)
		}
		if v, ok := props["RSSI"]; ok {
			if rssi, ok := v.Value().(int16); ok {
				d.SignalStrength = int(rssi)
			}
		}
		batch = append(batch, d)
	}

	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].SignalStrength > batch[j].SignalStrength
	})
	return batch, nil
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

// ConnectReader calls Device1.Connect on the device whose address
// matches serial.
func (a *Adapter) ConnectReader(ctx context.Context, serial string) (*reader.ConnectedReader, error) {
	path := deviceObjectPath(a.adapterPath, serial)
	obj := a.conn.Object(busName, path)

	call := obj.CallWithContext(ctx, deviceIface+".Connect", 0)
	if call.Err != nil {
		return nil, fmt.Errorf("%w: %s: %w", reader.ErrConnectFailed, serial, call.Err)
	}

	connected := &reader.ConnectedReader{Serial: serial}
	var v dbus.Variant
	if err := obj.Call(propsIface+".Get", 0, deviceIface, "Alias").Store(&v); err == nil {
		connected.Label, _ = v.Value().(string)
	}
	if err := obj.Call(propsIface+".Get", 0, deviceIface, "Modalias").Store(&v); err == nil {
		connected.Model, _ = v.Value().(string)
	}

	a.mu.Lock()
	a.connected = connected
	a.connectedPath = path
	a.droppedByUs = false
	a.mu.Unlock()

	a.logger.Info("bluez reader connected", "serial", serial)
	return connected, nil
}

// DisconnectReader drops the current connection. No-op when nothing is
// connected.
func (a *Adapter) DisconnectReader(ctx context.Context) error {
	a.mu.Lock()
	if a.connected == nil {
		a.mu.Unlock()
		return nil
	}
	path := a.connectedPath
	a.droppedByUs = true
	a.mu.Unlock()

	obj := a.conn.Object(busName, path)
	if call := obj.CallWithContext(ctx, deviceIface+".Disconnect", 0); call.Err != nil {
		return fmt.Errorf("disconnect: %w", call.Err)
	}

	a.mu.Lock()
	a.connected = nil
	a.connectedPath = ""
	a.mu.Unlock()
	return nil
}

// ConnectedReader returns the reader we hold, or nil.
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

// watchSignals turns Connected=false property changes on the held
// device into unexpected-disconnect notifications.
func (a *Adapter) watchSignals() {
	defer a.wg.Done()
	for {
		select {
		case <-a.done:
			return
		case sig, ok := <-a.signals:
			if !ok {
				return
			}
			if sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
				continue
			}
			iface, _ := sig.Body[0].(string)
			if iface != deviceIface {
				continue
			}
			changed, _ := sig.Body[1].(map[string]dbus.Variant)
			v, ok := changed["Connected"]
			if !ok {
				continue
			}
			if connected, _ := v.Value().(bool); connected {
				continue
			}
			a.handleDisconnect(sig.Path)
		}
	}
}

func (a *Adapter) handleDisconnect(path dbus.ObjectPath) {
	a.mu.Lock()
	if a.connected == nil || path != a.connectedPath {
		a.mu.Unlock()
		return
	}
	if a.droppedByUs {
		a.droppedByUs = false
		a.mu.Unlock()
		return
	}
	lost := *a.connected
	a.connected = nil
	a.connectedPath = ""
	listeners := make([]hardware.UnexpectedDisconnectFunc, 0, len(a.disconnectListeners))
	for _, fn := range a.disconnectListeners {
		listeners = append(listeners, fn)
	}
	a.mu.Unlock()

	a.logger.Warn("bluez reader lost", "serial", lost.Serial)
	for _, fn := range listeners {
		fn(lost)
	}
}

type subscription struct {
	once   sync.Once
	remove func()
}

func (s *subscription) Remove() {
	s.once.Do(s.remove)
}
