package serial

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// Port represents a serial port connection interface
type Port interface {
	Close() error
	Read(buf []byte) (int, error)
	Write(data []byte) (int, error)

	// Fd returns the descriptor for readiness polling.
	Fd() uintptr
	Name() string

	Drain() error
	// FlushInput discards input received but not yet read.
	FlushInput() error
	SendBreak() error

	// Modem signal control and monitoring
	LineStatus() (string, error)
	GetModemSignals() (ModemSignals, error)
	SetRTS(state bool) error
	GetRTS() (bool, error)
	SetDTR(state bool) error
	GetDTR() (bool, error)
}

// port is the concrete implementation of the Port interface
type port struct {
	mu     sync.RWMutex
	fd     int
	name   string
	config Config
	closed bool
	orig   *unix.Termios // attributes captured at open, restored on Close
	lock   *Lock
}

// Ensure port implements Port interface at compile time
var _ Port = (*port)(nil)

// FlowControl represents the flow control mode
type FlowControl int

const (
	FlowControlNone FlowControl = iota
	FlowControlRTSCTS
)

// Parity represents the parity mode
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// ModemSignals represents modem control signal states
type ModemSignals struct {
	CTS bool // Clear To Send
	DSR bool // Data Set Ready
	RI  bool // Ring Indicator
	DCD bool // Data Carrier Detect
	RTS bool // Request To Send
	DTR bool // Data Terminal Ready
}

// DevDir is where bare device names are looked up.
const DevDir = "/dev"

// lineStatusBits names every TIOCM bit reported by LineStatus.
// Aliases (CD/CAR, RI/RNG) are listed under both names.
var lineStatusBits = map[string]int{
	"CAR": unix.TIOCM_CAR,
	"CD":  unix.TIOCM_CD,
	"CTS": unix.TIOCM_CTS,
	"DSR": unix.TIOCM_DSR,
	"DTR": unix.TIOCM_DTR,
	"LE":  unix.TIOCM_LE,
	"RI":  unix.TIOCM_RI,
	"RNG": unix.TIOCM_RNG,
	"RTS": unix.TIOCM_RTS,
	"SR":  unix.TIOCM_SR,
	"ST":  unix.TIOCM_ST,
}

// getBaudRate converts an integer baud rate to the unix constant
func getBaudRate(rate int) (uint32, error) {
	switch rate {
	case 50:
		return unix.B50, nil
	case 75:
		return unix.B75, nil
	case 110:
		return unix.B110, nil
	case 134:
		return unix.B134, nil
	case 150:
		return unix.B150, nil
	case 200:
		return unix.B200, nil
	case 300:
		return unix.B300, nil
	case 600:
		return unix.B600, nil
	case 1200:
		return unix.B1200, nil
	case 1800:
		return unix.B1800, nil
	case 2400:
		return unix.B2400, nil
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 500000:
		return unix.B500000, nil
	case 576000:
		return unix.B576000, nil
	case 921600:
		return unix.B921600, nil
	case 1000000:
		return unix.B1000000, nil
	case 1152000:
		return unix.B1152000, nil
	case 1500000:
		return unix.B1500000, nil
	case 2000000:
		return unix.B2000000, nil
	case 2500000:
		return unix.B2500000, nil
	case 3000000:
		return unix.B3000000, nil
	case 3500000:
		return unix.B3500000, nil
	case 4000000:
		return unix.B4000000, nil
	default:
		return 0, ErrInvalidBaudRate
	}
}

// getModemStatus retrieves modem control signals using unix package
func getModemStatus(fd int) (int, error) {
	return unix.IoctlGetInt(fd, unix.TIOCMGET)
}

// setModemBit raises or drops a single modem control line
func setModemBit(fd int, bit int, state bool) error {
	if state {
		return unix.IoctlSetPointerInt(fd, unix.TIOCMBIS, bit)
	}
	return unix.IoctlSetPointerInt(fd, unix.TIOCMBIC, bit)
}

// formatLineStatus renders asserted TIOCM bits as a sorted name list
func formatLineStatus(status int) string {
	var names []string
	for name, bit := range lineStatusBits {
		if status&bit != 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func signalsFromStatus(status int) ModemSignals {
	return ModemSignals{
		CTS: status&unix.TIOCM_CTS != 0,
		DSR: status&unix.TIOCM_DSR != 0,
		RI:  status&unix.TIOCM_RI != 0,
		DCD: status&unix.TIOCM_CAR != 0,
		RTS: status&unix.TIOCM_RTS != 0,
		DTR: status&unix.TIOCM_DTR != 0,
	}
}

// ResolveDevice maps a bare device name such as "ttyUSB0" to its path
// under DevDir. Names containing a path separator are returned unchanged,
// as are bare names with no matching device node.
func ResolveDevice(name string) string {
	if strings.Contains(name, "/") {
		return name
	}
	candidate := filepath.Join(DevDir, name)
	if _, err := os.Stat(candidate); err == nil {
		return candidate
	}
	return name
}

// Open opens a serial port with the given device path and options
func Open(device string, opts ...Option) (Port, error) {
	// Apply default configuration
	config := DefaultConfig()
	for _, opt := range opts {
		if err := opt(&config); err != nil {
			return nil, err
		}
	}
	device = ResolveDevice(device)

	var lock *Lock
	if config.Lock {
		var lockOpts []LockOption
		if config.LockDir != "" {
			lockOpts = append(lockOpts, InLockDir(config.LockDir))
		}
		var err error
		lock, err = AcquireLock(filepath.Base(device), lockOpts...)
		if err != nil {
			return nil, err
		}
	}

	p, err := openPort(device, config)
	if err != nil {
		lock.Release()
		return nil, err
	}
	p.lock = lock
	return p, nil
}

func openPort(device string, config Config) (*port, error) {
	// Non-blocking open so a missing carrier cannot hang us; blocking
	// mode is restored right after.
	flags := unix.O_RDWR | unix.O_NOCTTY | unix.O_NONBLOCK
	if config.WriteMode == WriteModeSynced {
		flags |= unix.O_SYNC
	}

	fd, err := unix.Open(device, flags, 0)
	if err != nil {
		switch {
		case errors.Is(err, unix.ENOENT):
			return nil, fmt.Errorf("failed to open %s: %w", device, ErrDeviceNotFound)
		case errors.Is(err, unix.EACCES), errors.Is(err, unix.EPERM):
			return nil, fmt.Errorf("failed to open %s: %w", device, ErrPermissionDenied)
		}
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}
	if err := unix.SetNonblock(fd, false); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to clear O_NONBLOCK on %s: %w", device, err)
	}

	orig, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to get termios: %w", err)
	}

	p := &port{
		fd:     fd,
		name:   device,
		config: config,
		orig:   orig,
	}

	if err := configurePort(fd, *orig, config); err != nil {
		p.restore()
		unix.Close(fd)
		return nil, err
	}

	// Apply initial signal states if configured
	if config.InitialRTS != nil {
		if err := setModemBit(fd, unix.TIOCM_RTS, *config.InitialRTS); err != nil {
			p.restore()
			unix.Close(fd)
			return nil, fmt.Errorf("failed to set initial RTS: %w", err)
		}
	}
	if config.InitialDTR != nil {
		if err := setModemBit(fd, unix.TIOCM_DTR, *config.InitialDTR); err != nil {
			p.restore()
			unix.Close(fd)
			return nil, fmt.Errorf("failed to set initial DTR: %w", err)
		}
	}

	return p, nil
}

// configurePort applies line settings to a copy of the original termios
// and then switches the line to raw mode
func configurePort(fd int, termios unix.Termios, config Config) error {
	baudRate, err := getBaudRate(config.BaudRate)
	if err != nil {
		return err
	}

	// Speed, no parity, ignore modem status lines
	termios.Cflag = (termios.Cflag &^ unix.CBAUD) | baudRate
	termios.Ispeed = baudRate
	termios.Ospeed = baudRate
	termios.Cflag &^= unix.PARENB | unix.PARODD
	termios.Cflag |= unix.CLOCAL | unix.CREAD

	// TCSETSW waits for pending output, like TCSADRAIN
	if err := unix.IoctlSetTermios(fd, unix.TCSETSW, &termios); err != nil {
		return fmt.Errorf("failed to set termios: %w", err)
	}

	// Raw mode: no input translation, no output processing, no echo,
	// no line discipline, no signal characters
	termios.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	termios.Oflag &^= unix.OPOST
	termios.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	termios.Cflag &^= unix.CSIZE | unix.PARENB
	termios.Cc[unix.VMIN] = 1
	termios.Cc[unix.VTIME] = 0

	// Data bits
	switch config.DataBits {
	case 5:
		termios.Cflag |= unix.CS5
	case 6:
		termios.Cflag |= unix.CS6
	case 7:
		termios.Cflag |= unix.CS7
	default:
		termios.Cflag |= unix.CS8
	}

	// Stop bits
	if config.StopBits == 2 {
		termios.Cflag |= unix.CSTOPB
	} else {
		termios.Cflag &^= unix.CSTOPB
	}

	// Parity
	switch config.Parity {
	case ParityOdd:
		termios.Cflag |= unix.PARENB | unix.PARODD
	case ParityEven:
		termios.Cflag |= unix.PARENB
	}

	// Flow control
	if config.FlowControl == FlowControlRTSCTS {
		termios.Cflag |= unix.CRTSCTS
	} else {
		termios.Cflag &^= unix.CRTSCTS
	}

	if err := unix.IoctlSetTermios(fd, unix.TCSETSW, &termios); err != nil {
		return fmt.Errorf("failed to set raw mode: %w", err)
	}

	// For RTS/CTS flow control, ensure RTS is asserted to signal readiness.
	// Some drivers do not support manual RTS control.
	if config.FlowControl == FlowControlRTSCTS {
		_ = setModemBit(fd, unix.TIOCM_RTS, true)
	}

	return nil
}

// restore puts back the attributes captured at open time; failures are ignored
func (p *port) restore() {
	if p.orig != nil {
		_ = unix.IoctlSetTermios(p.fd, unix.TCSETSW, p.orig)
	}
}

// Close restores the original line settings, closes the port and releases
// its lock file. Calling Close more than once is a no-op.
func (p *port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	p.restore()
	err := unix.Close(p.fd)
	if p.lock != nil {
		if lerr := p.lock.Release(); lerr != nil && err == nil {
			err = lerr
		}
		p.lock = nil
	}
	return err
}

// Fd returns the underlying descriptor
func (p *port) Fd() uintptr {
	return uintptr(p.fd)
}

// Name returns the resolved device path
func (p *port) Name() string {
	return p.name
}

// Read reads data from the serial port
func (p *port) Read(buf []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	n, err := unix.Read(p.fd, buf)
	if n < 0 {
		n = 0
	}
	return n, err
}

// Write writes all of data to the serial port
func (p *port) Write(data []byte) (int, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	written := 0
	for written < len(data) {
		n, err := unix.Write(p.fd, data[written:])
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return written, err
		}
		written += n
	}
	return written, nil
}

// LineStatus returns the asserted modem control lines as a sorted,
// comma separated list of names
func (p *port) LineStatus() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return "", ErrPortClosed
	}

	status, err := getModemStatus(p.fd)
	if err != nil {
		return "", err
	}
	return formatLineStatus(status), nil
}

// SendBreak transmits a BREAK condition
func (p *port) SendBreak() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPortClosed
	}

	// TCSBRK with a zero argument is tcsendbreak(fd, 0)
	return unix.IoctlSetInt(p.fd, unix.TCSBRK, 0)
}

// GetModemSignals returns current state of all modem control signals
func (p *port) GetModemSignals() (ModemSignals, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ModemSignals{}, ErrPortClosed
	}

	status, err := getModemStatus(p.fd)
	if err != nil {
		return ModemSignals{}, err
	}

	return signalsFromStatus(status), nil
}

// SetRTS manually sets the RTS signal state
// When true, asserts RTS (signals readiness to receive)
// When false, deasserts RTS (signals not ready)
func (p *port) SetRTS(state bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPortClosed
	}

	return setModemBit(p.fd, unix.TIOCM_RTS, state)
}

// GetRTS returns current RTS signal state
func (p *port) GetRTS() (bool, error) {
	signals, err := p.GetModemSignals()
	return signals.RTS, err
}

// SetDTR sets the DTR signal state
func (p *port) SetDTR(state bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPortClosed
	}

	return setModemBit(p.fd, unix.TIOCM_DTR, state)
}

// GetDTR returns current DTR signal state
func (p *port) GetDTR() (bool, error) {
	signals, err := p.GetModemSignals()
	return signals.DTR, err
}

// Drain waits until all output written to the port has been transmitted
func (p *port) Drain() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPortClosed
	}

	return unix.IoctlSetInt(p.fd, unix.TCSBRK, 1)
}

// FlushInput discards any unread input data
func (p *port) FlushInput() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPortClosed
	}

	return unix.IoctlSetInt(p.fd, unix.TCFLSH, unix.TCIFLUSH)
}
