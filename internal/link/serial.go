package link

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// ErrPortNotFound indicates no attached device looked like the controller.
var ErrPortNotFound = errors.New("link: no serial device found")

// OpenPort opens the named serial device, autodetecting one when name is
// empty.
func OpenPort(name string, baudRate int) (Port, error) {
	if name == "" {
		detected, err := DetectPort()
		if err != nil {
			return nil, err
		}
		name = detected
	}

	port, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("link: open %s: %w", name, err)
	}
	return port, nil
}

// DetectPort scans attached serial devices for something that looks like the
// gate controller: a USB device advertising an Arduino or generic USB-serial
// bridge, or failing that, a conventional USB-serial device name.
func DetectPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("link: enumerate serial ports: %w", err)
	}

	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		product := strings.ToUpper(p.Product)
		if strings.Contains(product, "ARDUINO") || strings.Contains(product, "USB-SERIAL") {
			return p.Name, nil
		}
	}
	for _, p := range ports {
		name := p.Name
		if strings.Contains(name, "ttyUSB") || strings.Contains(name, "ttyACM") || strings.Contains(name, "usbmodem") {
			return name, nil
		}
	}
	return "", ErrPortNotFound
}
