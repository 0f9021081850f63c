// Package serialport owns the physical serial handle of the station.
//
// All methods assume the caller already has exclusive access to the port
// (the command queue worker). The internal mutex only protects the handle
// against accidental direct calls.
package serialport

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
)

var ErrNotOpen = errors.New("serial port not open")

const (
	DefaultBaudRate    = 9600
	DefaultDataBits    = 8
	defaultReadTimeout = 50 * time.Millisecond
)

// Port is the subset of serial.Port used by the link.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Opener opens a named port with the given mode.
type Opener func(name string, mode *serial.Mode) (Port, error)

func openSerial(name string, mode *serial.Mode) (Port, error) {
	return serial.Open(name, mode)
}

// Config describes line settings. Zero values fall back to 8N1.
type Config struct {
	DataBits    int
	Parity      string // N | O | E
	StopBits    int    // 1 | 2
	ReadTimeout time.Duration
}

type Link struct {
	mu     sync.Mutex
	port   Port
	name   string
	cfg    Config
	opener Opener
}

type Option func(*Link)

// WithOpener replaces the native opener (simulators, tests).
func WithOpener(o Opener) Option { return func(l *Link) { l.opener = o } }

func WithConfig(c Config) Option { return func(l *Link) { l.cfg = c } }

func NewLink(opts ...Option) *Link {
	l := &Link{opener: openSerial}
	for _, o := range opts {
		o(l)
	}
	if l.cfg.DataBits == 0 {
		l.cfg.DataBits = DefaultDataBits
	}
	if l.cfg.StopBits == 0 {
		l.cfg.StopBits = 1
	}
	if l.cfg.ReadTimeout <= 0 {
		l.cfg.ReadTimeout = defaultReadTimeout
	}
	return l
}

func (l *Link) mode(baud int) *serial.Mode {
	if baud <= 0 {
		baud = DefaultBaudRate
	}
	m := &serial.Mode{BaudRate: baud, DataBits: l.cfg.DataBits, StopBits: serial.OneStopBit}
	switch strings.ToUpper(l.cfg.Parity) {
	case "O":
		m.Parity = serial.OddParity
	case "E":
		m.Parity = serial.EvenParity
	default:
		m.Parity = serial.NoParity
	}
	if l.cfg.StopBits == 2 {
		m.StopBits = serial.TwoStopBits
	}
	return m
}

// Open opens portName, closing any previously opened handle first.
func (l *Link) Open(portName string, baudRate int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.port != nil {
		_ = l.port.Close()
		l.port = nil
	}
	p, err := l.opener(portName, l.mode(baudRate))
	if err != nil {
		return fmt.Errorf("open %s: %w", portName, err)
	}
	// read restituisce solo quello che e' gia' nel buffer
	if err := p.SetReadTimeout(l.cfg.ReadTimeout); err != nil {
		_ = p.Close()
		return fmt.Errorf("set read timeout on %s: %w", portName, err)
	}
	l.port = p
	l.name = portName
	log.Printf("serial: opened %s at %d baud", portName, l.mode(baudRate).BaudRate)
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	log.Printf("serial: closed %s", l.name)
	return err
}

func (l *Link) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.port != nil
}

// Name is the path of the open port, empty when closed.
func (l *Link) Name() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return ""
	}
	return l.name
}

// Write sends b and returns the number of bytes written.
func (l *Link) Write(b []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return -1, ErrNotOpen
	}
	n, err := l.port.Write(b)
	if err != nil {
		return n, fmt.Errorf("write %s: %w", l.name, err)
	}
	return n, nil
}

// Read returns what is currently buffered, up to maxBytes. It does not wait
// for more data than is already available; callers pace write and read.
func (l *Link) Read(maxBytes int) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return nil, ErrNotOpen
	}
	if maxBytes <= 0 {
		return []byte{}, nil
	}
	buf := make([]byte, maxBytes)
	got := 0
	for got < maxBytes {
		n, err := l.port.Read(buf[got:])
		got += n
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return buf[:got], fmt.Errorf("read %s: %w", l.name, err)
		}
		if n == 0 {
			break
		}
	}
	return buf[:got], nil
}

// Flush discards unread input, e.g. late bytes of a previous response.
func (l *Link) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return ErrNotOpen
	}
	return l.port.ResetInputBuffer()
}
