package transport

import (
	"fmt"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// PortInfo describes one serial port found on the host
type PortInfo struct {
	Name         string
	Product      string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
}

// String renders the port as "device - description"
func (p PortInfo) String() string {
	desc := p.Product
	if desc == "" && p.IsUSB {
		desc = fmt.Sprintf("USB %s:%s", p.VID, p.PID)
	}
	if desc == "" {
		desc = "n/a"
	}
	return fmt.Sprintf("%s - %s", p.Name, desc)
}

// ListPorts enumerates serial ports. Detailed USB information is used where
// the platform provides it; otherwise only port names are returned.
func ListPorts() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		ports := make([]PortInfo, 0, len(details))
		for _, d := range details {
			ports = append(ports, PortInfo{
				Name:         d.Name,
				Product:      d.Product,
				IsUSB:        d.IsUSB,
				VID:          d.VID,
				PID:          d.PID,
				SerialNumber: d.SerialNumber,
			})
		}
		return ports, nil
	}

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	ports := make([]PortInfo, 0, len(names))
	for _, name := range names {
		ports = append(ports, PortInfo{Name: name})
	}
	return ports, nil
}
