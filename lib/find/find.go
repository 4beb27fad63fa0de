package find

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.bug.st/serial/enumerator"
)

type FilterFn func(*Usbtty) bool

// SequencerFilter matches the FTDI bridge of the pulse sequencer board.
func SequencerFilter(ut *Usbtty) bool {
	return strings.EqualFold(ut.IDv, "0403") && strings.EqualFold(ut.IDp, "6001")
}

// PiPicoFilter matches a Raspberry Pi Pico running the sigrok-pico firmware.
func PiPicoFilter(ut *Usbtty) bool {
	return strings.EqualFold(ut.IDv, "2e8a")
}

func SerialFilter(s string) FilterFn {
	return func(ut *Usbtty) bool { return ut.Serial == s }
}

func ProductFilter(substr string) FilterFn {
	return func(ut *Usbtty) bool { return strings.Contains(ut.Prod, substr) }
}

// listPorts is replaced in tests.
var listPorts = enumerator.GetDetailedPortsList

// Find searches for a usb serial device. If filter is not nil,
// it is used to narrow choices down. The first device for which
// it returns true (if any) is chosen.
func Find(filter FilterFn) (string, error) {
	ttys, err := AllUsbTtys()
	if err != nil {
		return "", err
	}
	if filter != nil {
		var match Usbttys
		for i := range ttys {
			if filter(&ttys[i]) {
				match = Usbttys{ttys[i]}
				break
			}
		}
		ttys = match
	}

	if len(ttys) == 0 {
		return "", errors.New("no matching ttys found")
	}
	if len(ttys) == 1 {
		return ttys[0].Dev, nil
	}
	return "", errors.Errorf("multiple ttys:\n%s", ttys)
}

type Usbtty struct {
	Dev      string
	IDp, IDv string
	Prod     string
	Serial   string
}

func (u Usbtty) String() string {
	return fmt.Sprintf("dev %s pid/vid %s/%s prod %s serial %s", u.Dev, u.IDp, u.IDv, u.Prod, u.Serial)
}

type Usbttys []Usbtty

func (uts Usbttys) String() string {
	s := make([]string, 0, len(uts))
	for _, ut := range uts {
		s = append(s, ut.String())
	}
	return strings.Join(s, "\n")
}

// AllUsbTtys lists the serial ports that sit on a usb device.
func AllUsbTtys() (Usbttys, error) {
	ports, err := listPorts()
	if err != nil {
		return nil, errors.Wrap(err, "enumerate serial ports")
	}
	var devs Usbttys
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		devs = append(devs, Usbtty{
			Dev:    p.Name,
			IDp:    p.PID,
			IDv:    p.VID,
			Prod:   p.Product,
			Serial: p.SerialNumber,
		})
	}
	return devs, nil
}
