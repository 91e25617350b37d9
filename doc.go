// Package serial opens and configures serial lines for portsh, a tool that
// runs commands on a device whose only way in is a serial console.
//
// This package covers the local end of the line: device resolution, termios
// setup, UUCP lock files and modem signals. The remote protocol lives in the
// internal packages.
//
// # Basic Usage
//
// Open a serial port with default configuration (115200 8N1, no flow control):
//
//	port, err := serial.Open("ttyUSB0")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer port.Close()
//
// Bare names are looked up under /dev. The port is put in raw mode and the
// original terminal attributes are restored by Close.
//
// # Configuration Options
//
// Use functional options for custom configuration:
//
//	port, err := serial.Open("/dev/ttyUSB0",
//	    serial.WithBaudRate(9600),
//	    serial.WithFlowControl(serial.FlowControlRTSCTS),
//	    serial.WithLock(),
//	)
//
// # Lock Files
//
// WithLock takes a LCK..<device> file holding our PID before the device is
// opened, the same convention minicom and friends use. A lock held by a
// live process fails with ErrDeviceInUse. Locks left behind by dead
// processes are reclaimed. Close releases the lock.
//
//	lock, err := serial.AcquireLock("ttyUSB0", serial.InLockDir("/run/lock"))
//	if errors.Is(err, serial.ErrDeviceInUse) {
//	    // someone else is on the console
//	}
//	defer lock.Release()
//
// # Port Discovery
//
//	ports, err := serial.ListPorts()
//	for _, path := range ports {
//	    info, _ := serial.GetPortInfo(path)
//	    fmt.Printf("%s: %s (locked by %d)\n", info.Path, info.Description, info.LockedBy)
//	}
//
// # Modem Signals
//
//	status, err := port.LineStatus() // e.g. "CTS, DSR, DTR, RTS"
//	err = port.SetDTR(false)
//	err = port.SendBreak()
//
// # Error Handling
//
// Errors wrap the sentinels in this package; use errors.Is. IsConfigError
// groups the ones caused by bad settings.
package serial
