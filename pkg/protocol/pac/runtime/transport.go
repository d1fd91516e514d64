package runtime

import (
	"fmt"
	"io"
	"net"
	"pacbridge/pkg/utils/binutil"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"k8s.io/klog/v2"
)

var _ Messenger = (*TcpClient)(nil)

// Messenger is the raw PAC connection. Callers serialize access; a
// Messenger never interleaves two exchanges by itself.
type Messenger interface {
	Send(command string) error
	// ReceiveFramed reads a binary table frame of minPayload to maxPayload
	// bytes and returns the payload with the header stripped.
	ReceiveFramed(minPayload, maxPayload int) ([]byte, error)
	ReceiveUntilSentinel(sentinel byte, max int, timeout time.Duration) ([]byte, error)
	ReceiveConfirmation(timeout time.Duration) ([]byte, error)
	Flush() int
	Close()
	Available() bool
}

type TcpClient struct {
	Address string
	Timeout time.Duration
	IdleGap time.Duration
	Tunnel  net.Conn

	connected *atomic.Bool
}

// Open dials the controller. The returned client is connected.
func Open(address string, timeout time.Duration) (*TcpClient, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	tunnel, err := net.DialTimeout("tcp", address, timeout)
	if err != nil {
		klog.V(2).InfoS("Failed to connect pac", "address", address, "error", err)
		return nil, errors.Wrapf(err, "dial %s", address)
	}
	if tcp, ok := tunnel.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}
	klog.V(1).InfoS("Succeed to connect pac", "address", address)
	return &TcpClient{
		Address:   address,
		Timeout:   timeout,
		IdleGap:   DefaultIdleGap,
		Tunnel:    tunnel,
		connected: atomic.NewBool(true),
	}, nil
}

func (tc *TcpClient) Available() bool {
	return tc.Tunnel != nil && tc.connected != nil && tc.connected.Load()
}

func (tc *TcpClient) Close() {
	if tc.connected != nil {
		tc.connected.Store(false)
	}
	if tc.Tunnel != nil {
		_ = tc.Tunnel.Close()
	}
}

func (tc *TcpClient) markClosed(reason error) {
	if tc.connected.CAS(true, false) {
		klog.V(2).InfoS("Pac connection lost", "address", tc.Address, "error", reason)
	}
}

func (tc *TcpClient) Send(command string) error {
	if !tc.Available() {
		return ErrNotConnected
	}
	if err := tc.Tunnel.SetWriteDeadline(time.Now().Add(tc.Timeout)); err != nil {
		tc.markClosed(err)
		return errors.Wrap(ErrConnClosed, err.Error())
	}
	n, err := tc.Tunnel.Write([]byte(command))
	if err != nil {
		tc.markClosed(err)
		return errors.Wrap(ErrConnClosed, err.Error())
	}
	if n != len(command) {
		tc.markClosed(ErrShortWrite)
		return ErrShortWrite
	}
	klog.V(4).InfoS("Sent pac command", "command", printableCommand(command))
	return nil
}

// Flush discards whatever the controller left unread and returns the number
// of bytes dropped.
func (tc *TcpClient) Flush() int {
	if !tc.Available() {
		return 0
	}
	buf := make([]byte, 1024)
	flushed := 0
	for {
		if err := tc.Tunnel.SetReadDeadline(time.Now().Add(5 * time.Millisecond)); err != nil {
			break
		}
		n, err := tc.Tunnel.Read(buf)
		flushed += n
		if err != nil {
			if !isTimeout(err) {
				tc.markClosed(err)
			}
			break
		}
	}
	if flushed > 0 {
		klog.V(2).InfoS("Flushed residual pac bytes", "address", tc.Address, "bytes", flushed)
	}
	return flushed
}

func (tc *TcpClient) ReceiveFramed(minPayload, maxPayload int) ([]byte, error) {
	if !tc.Available() {
		return nil, ErrNotConnected
	}
	if minPayload > maxPayload {
		minPayload = maxPayload
	}
	least := minPayload + HeaderBytes
	total := maxPayload + HeaderBytes
	buf := make([]byte, total)
	got := 0
	deadline := time.Now().Add(tc.Timeout)

	for got < total {
		readDeadline := deadline
		if got > 0 && tc.IdleGap > 0 {
			if idle := time.Now().Add(tc.IdleGap); idle.Before(deadline) {
				readDeadline = idle
			}
		}
		if err := tc.Tunnel.SetReadDeadline(readDeadline); err != nil {
			tc.markClosed(err)
			return nil, errors.Wrap(ErrConnClosed, err.Error())
		}
		n, err := tc.Tunnel.Read(buf[got:])
		got += n
		if err == nil {
			continue
		}
		if !isTimeout(err) {
			tc.markClosed(err)
			klog.V(2).InfoS("Failed to receive pac frame", "received", got, "expected", total, "error", err)
			return nil, errors.Wrapf(ErrConnClosed, "received %d of %d bytes", got, total)
		}
		if got >= least || !time.Now().Before(deadline) {
			break
		}
		if _, ok := AsciiError(buf[:got]); ok {
			break
		}
		// Stalled mid-frame, keep reading until the deadline.
		klog.V(5).InfoS("Pac frame stalled", "received", got, "least", least)
	}

	if got == 0 {
		tc.markClosed(ErrIncompleteFrame)
		return nil, errors.Wrap(ErrIncompleteFrame, "no reply before timeout")
	}
	frame := buf[:got]
	klog.V(5).InfoS("Received pac frame", "bytes", got, "expected", total, "hex", hexString(frame))

	if got < total {
		if text, ok := AsciiError(frame); ok {
			klog.V(2).InfoS("Pac replied with an error message", "message", text)
			return nil, errors.Wrap(ErrAsciiReply, text)
		}
		if got < least {
			klog.V(2).InfoS("Pac frame incomplete", "received", got, "least", least)
			return nil, errors.Wrapf(ErrIncompleteFrame, "received %d of at least %d bytes", got, least)
		}
		klog.V(4).InfoS("Accepted pac frame shorter than requested", "received", got, "expected", total)
	}
	return binutil.Dup(frame[HeaderBytes:]), nil
}

func (tc *TcpClient) ReceiveUntilSentinel(sentinel byte, max int, timeout time.Duration) ([]byte, error) {
	if !tc.Available() {
		return nil, ErrNotConnected
	}
	if timeout <= 0 {
		timeout = tc.Timeout
	}
	if err := tc.Tunnel.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		tc.markClosed(err)
		return nil, errors.Wrap(ErrConnClosed, err.Error())
	}
	data := make([]byte, 0, max+1)
	one := make([]byte, 1)
	for {
		n, err := tc.Tunnel.Read(one)
		if n == 1 {
			if one[0] == sentinel {
				break
			}
			data = append(data, one[0])
			if len(data) > max {
				klog.V(2).InfoS("Pac ascii reply too long, truncating", "bytes", len(data))
				return data, ErrReplyOverflow
			}
			continue
		}
		if err != nil {
			if isTimeout(err) {
				klog.V(4).InfoS("Timed out waiting for pac ascii sentinel", "received", len(data))
				break
			}
			tc.markClosed(err)
			return data, errors.Wrap(ErrConnClosed, err.Error())
		}
	}
	klog.V(5).InfoS("Received pac ascii reply", "reply", PrintableText(data))
	return data, nil
}

func (tc *TcpClient) ReceiveConfirmation(timeout time.Duration) ([]byte, error) {
	if !tc.Available() {
		return nil, ErrNotConnected
	}
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	if err := tc.Tunnel.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		tc.markClosed(err)
		return nil, errors.Wrap(ErrConnClosed, err.Error())
	}
	buf := make([]byte, ConfirmBytes)
	n, err := io.ReadFull(tc.Tunnel, buf)
	if err != nil {
		if isTimeout(err) {
			return buf[:n], errors.Wrapf(ErrWriteRejected, "confirmation timeout after %d bytes", n)
		}
		tc.markClosed(err)
		return buf[:n], errors.Wrap(ErrConnClosed, err.Error())
	}
	return buf, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func printableCommand(command string) string {
	if n := len(command); n > 0 && command[n-1] == '\r' {
		return command[:n-1] + `\r`
	}
	return command
}

func hexString(data []byte) string {
	return fmt.Sprintf("% x", data)
}
