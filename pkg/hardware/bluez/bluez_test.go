package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
)

func TestDeviceObjectPath(t *testing.T) {
	got := deviceObjectPath("/org/bluez/hci0", "AA:BB:CC:DD:EE:FF")
	want := dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF")
	if got != want {
		t.Errorf("deviceObjectPath() = %q, want %q", got, want)
	}
}
