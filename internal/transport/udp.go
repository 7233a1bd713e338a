// Package transport moves LIFX datagrams over a UDP socket.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// maxDatagram covers the largest LIFX message with room to spare
const maxDatagram = 1024

// Handler receives one datagram. data is only valid for the duration of the call.
type Handler func(data []byte, from *net.UDPAddr)

// UDP is a bound socket used both for sending commands and receiving replies
type UDP struct {
	conn *net.UDPConn
}

// Listen binds a UDP socket. An empty address binds every interface on a
// random port.
func Listen(addr string) (*UDP, error) {
	if addr == "" {
		addr = ":0"
	}
	laddr, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve bind address %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	log.Info().Str("addr", conn.LocalAddr().String()).Msg("UDP transport listening")
	return &UDP{conn: conn}, nil
}

// LocalAddr returns the bound address
func (u *UDP) LocalAddr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

// Send writes one datagram
func (u *UDP) Send(data []byte, addr *net.UDPAddr) error {
	if addr == nil {
		return errors.New("no destination address")
	}
	_, err := u.conn.WriteToUDP(data, addr)
	return err
}

// Serve reads datagrams until ctx is done or the socket is closed
func (u *UDP) Serve(ctx context.Context, handler Handler) error {
	go func() {
		<-ctx.Done()
		// Unblock the pending read
		_ = u.conn.SetReadDeadline(time.Now())
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var nerr net.Error
			if errors.As(err, &nerr) && nerr.Timeout() {
				continue
			}
			return fmt.Errorf("udp read failed: %w", err)
		}

		log.Debug().Int("bytes", n).Str("addr", from.String()).Msg("Datagram received")
		handler(buf[:n], from)
	}
}

// Close releases the socket
func (u *UDP) Close() error {
	return u.conn.Close()
}
