package main

import (
	"sort"
	"strings"
)

// deviceSignature reduces an enumeration result to a comparable string so
// hotplug polling can detect arrivals and departures without diffing structs.
func deviceSignature(devices []DeviceDescriptor) string {
	keys := make([]string, 0, len(devices))
	for _, d := range devices {
		keys = append(keys, d.Key)
	}
	sort.Strings(keys)
	return strings.Join(keys, "|")
}

// chooseSelection picks which device the session should target. Order of
// preference: the key the user selected this run, the persisted key from a
// previous run, then the first enumerated device.
func chooseSelection(devices []DeviceDescriptor, currentKey, preferredKey string) (DeviceDescriptor, bool) {
	if len(devices) == 0 {
		return DeviceDescriptor{}, false
	}
	for _, want := range []string{currentKey, preferredKey} {
		if want == "" {
			continue
		}
		for _, d := range devices {
			if d.Key == want {
				return d, true
			}
		}
	}
	return devices[0], true
}
