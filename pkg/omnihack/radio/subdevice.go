package radio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/norasector/omnihack/pkg/omnihack/device"
	"github.com/pkg/errors"
)

// Subdevice is a daughterboard addressed by slot and side.
type Subdevice struct {
	Slot int
	Side int
	ID   int
}

func (s Subdevice) String() string {
	return fmt.Sprintf("%c:%d (dbid %d)", 'A'+rune(s.Slot), s.Side, s.ID)
}

// ValidRxID reports whether a daughterboard can receive.
func ValidRxID(id int) bool {
	return id == device.DBIDBasicRX || id == device.DBIDLFRX
}

// ValidTxID reports whether a daughterboard can transmit.
func ValidTxID(id int) bool {
	return id == device.DBIDBasicTX || id == device.DBIDLFTX
}

// Probe order for automatic selection.
var candidateSlots = []struct{ slot, side int }{{0, 0}, {1, 0}}

func selectSubdevice(fe device.Frontend, valid func(int) bool, path string) (Subdevice, error) {
	for _, p := range candidateSlots {
		id, err := fe.SubdeviceID(p.slot, p.side)
		if err != nil {
			return Subdevice{}, newError(KindNoSuitableHardware, errors.Wrapf(err, "query slot %d side %d", p.slot, p.side),
				"%s", path)
		}
		if valid(id) {
			return Subdevice{Slot: p.slot, Side: p.side, ID: id}, nil
		}
	}
	return Subdevice{}, newError(KindNoSuitableHardware, nil, "no suitable %s daughterboard found", path)
}

// SelectRxSubdevice returns the first receive-capable board, slot 0 first.
func SelectRxSubdevice(fe device.Frontend) (Subdevice, error) {
	return selectSubdevice(fe, ValidRxID, "RX")
}

// SelectTxSubdevice returns the first transmit-capable board, slot 0 first.
func SelectTxSubdevice(fe device.Frontend) (Subdevice, error) {
	return selectSubdevice(fe, ValidTxID, "TX")
}

func validateSubdevice(fe device.Frontend, spec SubdevSpec, valid func(int) bool, path string) (Subdevice, error) {
	id, err := fe.SubdeviceID(spec.Slot, spec.Side)
	if err != nil {
		return Subdevice{}, newError(KindInvalidSubdevice, errors.Wrapf(err, "query %s", spec), "%s", path)
	}
	if !valid(id) {
		return Subdevice{}, newError(KindInvalidSubdevice, nil, "invalid %s daughterboard specified: %s has dbid %d", path, spec, id)
	}
	return Subdevice{Slot: spec.Slot, Side: spec.Side, ID: id}, nil
}

// ValidateRxSubdevice checks an explicitly requested receive board.
func ValidateRxSubdevice(fe device.Frontend, spec SubdevSpec) (Subdevice, error) {
	return validateSubdevice(fe, spec, ValidRxID, "RX")
}

// ValidateTxSubdevice checks an explicitly requested transmit board.
func ValidateTxSubdevice(fe device.Frontend, spec SubdevSpec) (Subdevice, error) {
	return validateSubdevice(fe, spec, ValidTxID, "TX")
}

// SubdevSpec is a requested slot/side pair.
type SubdevSpec struct {
	Slot int
	Side int
}

func (s SubdevSpec) String() string {
	return fmt.Sprintf("%c:%d", 'A'+rune(s.Slot), s.Side)
}

// ParseSubdevSpec accepts "A", "B", "A:1", "B:0" or numeric "0:0", "1:1".
func ParseSubdevSpec(s string) (SubdevSpec, error) {
	s = strings.TrimSpace(s)
	slotStr, sideStr := s, "0"
	if i := strings.IndexByte(s, ':'); i >= 0 {
		slotStr, sideStr = s[:i], s[i+1:]
	}

	var spec SubdevSpec
	switch strings.ToUpper(slotStr) {
	case "A", "0":
		spec.Slot = 0
	case "B", "1":
		spec.Slot = 1
	default:
		return SubdevSpec{}, newError(KindInvalidSubdevice, nil, "bad subdevice spec %q", s)
	}

	side, err := strconv.Atoi(sideStr)
	if err != nil || side < 0 || side > 1 {
		return SubdevSpec{}, newError(KindInvalidSubdevice, err, "bad subdevice side in %q", s)
	}
	spec.Side = side

	return spec, nil
}
