package main

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sstallion/go-hid"
)

var hyperxVendorIDs = []uint16{
	0x0951, // Kingston (original HyperX dongles)
	0x03f0, // HP (post-acquisition dongles)
}

func isHyperxVendor(vid uint16) bool {
	for _, known := range hyperxVendorIDs {
		if vid == known {
			return true
		}
	}
	return false
}

var headsetNames = map[uint16]string{
	0x1718: "Cloud Alpha Wireless",
	0x1723: "Cloud Alpha Wireless Dongle",
	0x098d: "Cloud Alpha Wireless (HP)",
}

// DeviceDescriptor is an immutable snapshot produced by enumeration. Key is
// stable across rescans of the same physical device and is what hotplug
// diffing and persisted selection compare.
type DeviceDescriptor struct {
	Key          string
	Path         string
	VendorID     uint16
	ProductID    uint16
	Serial       string
	Product      string
	Manufacturer string
	InterfaceNbr int
}

func (d DeviceDescriptor) DisplayName() string {
	name := d.Product
	if name == "" {
		if known, ok := headsetNames[d.ProductID]; ok {
			name = known
		} else {
			name = fmt.Sprintf("HID %04x:%04x", d.VendorID, d.ProductID)
		}
	}
	if d.Serial != "" {
		return fmt.Sprintf("%s (%s)", name, d.Serial)
	}
	return name
}

func descriptorKey(vid, pid uint16, serial, path string) string {
	id := serial
	if id == "" {
		id = path
	}
	return fmt.Sprintf("%04x:%04x:%s", vid, pid, id)
}

// errHandleUnavailable reports a write attempted with no open handle. The
// transmitter treats it as a non-timeout failure, distinct from I/O errors
// raised by the device itself.
var errHandleUnavailable = errors.New("device handle unavailable")

// Transport is the capability the session core consumes: a single exclusive
// handle with blocking open/write and a timed read, plus enumeration of
// candidate devices. Implementations must make Close idempotent and must
// serialize write and read internally (the command channel is half-duplex).
type Transport interface {
	// SetTarget selects which device the next Open will attach to. A nil
	// descriptor means "first compatible device".
	SetTarget(desc *DeviceDescriptor)
	Open() error
	Close()
	Write(payload []byte) error
	// Read blocks up to timeout. n == 0 with a nil error means the timeout
	// expired with no data, which is not an error.
	Read(buf []byte, timeout time.Duration) (n int, err error)
	Enumerate() ([]DeviceDescriptor, error)
}

type hidTransport struct {
	mu     sync.Mutex
	dev    *hid.Device
	target *DeviceDescriptor
}

func newHIDTransport() *hidTransport {
	return &hidTransport{}
}

func (t *hidTransport) SetTarget(desc *DeviceDescriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if desc == nil {
		t.target = nil
		return
	}
	copied := *desc
	t.target = &copied
}

func (t *hidTransport) Open() error {
	t.mu.Lock()
	target := t.target
	t.mu.Unlock()
	if target == nil {
		return errors.New("no target device selected")
	}

	var dev *hid.Device
	var err error
	if target.Path != "" {
		dev, err = hid.OpenPath(target.Path)
	} else {
		dev, err = hid.Open(target.VendorID, target.ProductID, target.Serial)
	}
	if err != nil {
		return fmt.Errorf("unable to open headset via hidraw (path=%s vid=0x%04x pid=0x%04x): %w",
			target.Path, target.VendorID, target.ProductID, err)
	}

	t.mu.Lock()
	old := t.dev
	t.dev = dev
	t.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (t *hidTransport) Close() {
	t.mu.Lock()
	dev := t.dev
	t.dev = nil
	t.mu.Unlock()
	if dev != nil {
		_ = dev.Close()
	}
}

func (t *hidTransport) Write(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.dev == nil {
		return errHandleUnavailable
	}
	n, err := t.dev.Write(payload)
	if err != nil {
		return fmt.Errorf("hid_write failed: %w", err)
	}
	if n != len(payload) {
		return fmt.Errorf("hid_write incomplete: wrote %d of %d bytes", n, len(payload))
	}
	return nil
}

func (t *hidTransport) Read(buf []byte, timeout time.Duration) (int, error) {
	if timeout < 20*time.Millisecond {
		timeout = 20 * time.Millisecond
	}
	t.mu.Lock()
	dev := t.dev
	if dev == nil {
		t.mu.Unlock()
		// Keep the caller's pacing stable when the handle is gone.
		pause := timeout
		if pause > 50*time.Millisecond {
			pause = 50 * time.Millisecond
		}
		time.Sleep(pause)
		return 0, nil
	}
	n, err := dev.ReadWithTimeout(buf, timeout)
	t.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("hid_read_timeout failed: %w", err)
	}
	return n, nil
}

// shouldSkipCandidate filters out interfaces that enumerate under the headset
// vendor IDs but cannot be the control channel (keyboard endpoints on combo
// dongles, audio interfaces exposing a product string).
func shouldSkipCandidate(info *hid.DeviceInfo) bool {
	if info == nil || info.Path == "" {
		return true
	}
	if info.UsagePage == 0x01 && (info.Usage == 0x06 || info.Usage == 0x07) {
		return true
	}
	lp := strings.ToLower(info.ProductStr)
	if strings.Contains(lp, "keyboard") || strings.Contains(lp, "mouse") {
		return true
	}
	return false
}

func looksLikeHeadset(info *hid.DeviceInfo) bool {
	blob := strings.ToLower(info.ProductStr + " " + info.MfrStr)
	if strings.Contains(blob, "hyperx") || strings.Contains(blob, "cloud alpha") {
		return true
	}
	_, pidKnown := headsetNames[info.ProductID]
	return pidKnown
}

func (t *hidTransport) Enumerate() ([]DeviceDescriptor, error) {
	var devices []DeviceDescriptor
	seen := make(map[string]bool)
	collect := func(info *hid.DeviceInfo) error {
		if shouldSkipCandidate(info) || seen[info.Path] {
			return nil
		}
		seen[info.Path] = true
		devices = append(devices, DeviceDescriptor{
			Key:          descriptorKey(info.VendorID, info.ProductID, info.SerialNbr, info.Path),
			Path:         info.Path,
			VendorID:     info.VendorID,
			ProductID:    info.ProductID,
			Serial:       info.SerialNbr,
			Product:      info.ProductStr,
			Manufacturer: info.MfrStr,
			InterfaceNbr: info.InterfaceNbr,
		})
		return nil
	}

	var scanErr error
	for _, vid := range hyperxVendorIDs {
		if err := hid.Enumerate(vid, 0, collect); err != nil {
			scanErr = err
		}
	}
	if len(devices) == 0 {
		// Unknown vendor IDs still surface rebadged dongles by name.
		err := hid.Enumerate(0, 0, func(info *hid.DeviceInfo) error {
			if !looksLikeHeadset(info) && !isHyperxVendor(info.VendorID) {
				return nil
			}
			return collect(info)
		})
		if err != nil {
			scanErr = err
		}
	}
	if len(devices) == 0 && scanErr != nil {
		return nil, fmt.Errorf("unable to enumerate HID devices (check libhidapi-hidraw and udev rules): %w", scanErr)
	}

	sort.SliceStable(devices, func(i, j int) bool {
		a, b := devices[i], devices[j]
		aVendor := isHyperxVendor(a.VendorID)
		bVendor := isHyperxVendor(b.VendorID)
		if aVendor != bVendor {
			return aVendor
		}
		if a.InterfaceNbr != b.InterfaceNbr {
			return a.InterfaceNbr < b.InterfaceNbr
		}
		return a.Key < b.Key
	})
	return devices, nil
}
