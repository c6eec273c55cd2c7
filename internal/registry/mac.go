package registry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// MAC is a 48-bit BLE device address, compared as an unsigned integer for
// direction arbitration.
type MAC uint64

// ErrBadMAC is returned by ParseMAC on malformed input.
var ErrBadMAC = errors.New("registry: malformed MAC address")

// ParseMAC parses the canonical "AA:BB:CC:DD:EE:FF" form.
func ParseMAC(s string) (MAC, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return 0, ErrBadMAC
	}
	var mac MAC
	for _, p := range parts {
		if len(p) != 2 {
			return 0, ErrBadMAC
		}
		b, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return 0, ErrBadMAC
		}
		mac = mac<<8 | MAC(b)
	}
	return mac, nil
}

// String renders the canonical "AA:BB:CC:DD:EE:FF" form.
func (m MAC) String() string {
	b := [6]byte{
		byte(m >> 40), byte(m >> 32), byte(m >> 24),
		byte(m >> 16), byte(m >> 8), byte(m),
	}
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", b[0], b[1], b[2], b[3], b[4], b[5])
}

// Less compares two MACs as unsigned integers, as required by the direction
// arbiter and by selection's tie-breaking rule.
func (m MAC) Less(other MAC) bool {
	return m < other
}
