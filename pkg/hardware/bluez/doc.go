// Package bluez implements the hardware adapter on top of the BlueZ
// D-Bus API.
//
// Discovery runs org.bluez.Adapter1.StartDiscovery for a fixed scan
// window, collects org.bluez.Device1 objects, and delivers them to the
// discovery listeners as one batch ordered by RSSI. The Bluetooth
// address doubles as the reader serial number.
//
// Unexpected disconnects are detected through the
// org.freedesktop.DBus.Properties.PropertiesChanged signal on the
// connected device: a Connected=false change that was not requested
// through DisconnectReader fires the disconnect listeners.
//
// The adapter talks to /org/bluez/hci0 by default and requires a
// running bluetooth service on the system bus.
package bluez
