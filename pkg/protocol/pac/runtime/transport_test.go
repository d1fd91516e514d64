package runtime

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serve accepts a single connection and answers every '\r' terminated
// command with reply(command). A nil reply sends nothing.
func serve(t *testing.T, reply func(command string) []byte) (string, chan string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	commands := make(chan string, 16)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			cmd, err := r.ReadString('\r')
			if err != nil {
				return
			}
			commands <- cmd
			if out := reply(cmd); out != nil {
				if _, err := conn.Write(out); err != nil {
					return
				}
			}
		}
	}()
	return ln.Addr().String(), commands
}

func open(t *testing.T, addr string) *TcpClient {
	t.Helper()
	tc, err := Open(addr, 500*time.Millisecond)
	require.NoError(t, err)
	tc.IdleGap = 50 * time.Millisecond
	t.Cleanup(tc.Close)
	return tc
}

func TestReceiveFramedStripsHeader(t *testing.T) {
	payload := FloatsToBytes([]float32{10, 1, 2, 3, 4, 5, 42.5, 7, 8, 9})
	addr, commands := serve(t, func(string) []byte {
		return append([]byte{0x00, 0x00}, payload...)
	})
	tc := open(t, addr)

	require.NoError(t, tc.Send("9 0 }TBL_TT_11001 TRange.\r"))
	assert.Equal(t, "9 0 }TBL_TT_11001 TRange.\r", <-commands)

	data, err := tc.ReceiveFramed(40, 40)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.True(t, tc.Available())
}

func TestReceiveFramedAcceptsShortFrame(t *testing.T) {
	payload := Int32sToBytes([]int32{1, 0, 0, 1, 3})
	addr, _ := serve(t, func(string) []byte {
		return append([]byte{0x00, 0x00}, payload...)
	})
	tc := open(t, addr)

	require.NoError(t, tc.Send("9 0 }TBL_DA_0001 TRange.\r"))
	data, err := tc.ReceiveFramed(20, 40)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestReceiveFramedDetectsAsciiError(t *testing.T) {
	addr, _ := serve(t, func(string) []byte {
		return []byte("\x00\x00Unknown word\r\n")
	})
	tc := open(t, addr)

	require.NoError(t, tc.Send("9 0 }NOPE TRange.\r"))
	data, err := tc.ReceiveFramed(40, 40)
	assert.Nil(t, data)
	assert.True(t, errors.Is(err, ErrAsciiReply))
}

// serveStalled answers the first command with frame[:at], pauses, then
// sends the rest of the frame.
func serveStalled(t *testing.T, frame []byte, at int, pause time.Duration) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := bufio.NewReader(conn).ReadString('\r'); err != nil {
			return
		}
		if _, err := conn.Write(frame[:at]); err != nil {
			return
		}
		time.Sleep(pause)
		if at < len(frame) {
			_, _ = conn.Write(frame[at:])
		}
		time.Sleep(time.Second)
	}()
	return ln.Addr().String()
}

func TestReceiveFramedWaitsOutStall(t *testing.T) {
	payload := FloatsToBytes([]float32{10, 1, 2, 3, 4, 5, 42.5, 7, 8, 9})
	frame := append([]byte{0x00, 0x00}, payload...)
	tc := open(t, serveStalled(t, frame, 14, 200*time.Millisecond))

	require.NoError(t, tc.Send("9 0 }TBL_TT_11001 TRange.\r"))
	data, err := tc.ReceiveFramed(40, 40)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
	assert.True(t, tc.Available())
}

func TestReceiveFramedIncompleteAtDeadline(t *testing.T) {
	payload := FloatsToBytes([]float32{10, 1, 2, 3, 4, 5, 42.5, 7, 8, 9})
	frame := append([]byte{0x00, 0x00}, payload...)
	tc := open(t, serveStalled(t, frame[:14], 14, 0))

	require.NoError(t, tc.Send("9 0 }TBL_TT_11001 TRange.\r"))
	data, err := tc.ReceiveFramed(40, 40)
	assert.Nil(t, data)
	assert.True(t, errors.Is(err, ErrIncompleteFrame))
	assert.True(t, tc.Available(), "a partial frame leaves the socket usable")
}

func TestReceiveUntilSentinel(t *testing.T) {
	addr, _ := serve(t, func(string) []byte {
		return []byte("42.5 ")
	})
	tc := open(t, addr)

	require.NoError(t, tc.Send("^F_VALUE @@ F.\r"))
	data, err := tc.ReceiveUntilSentinel(Sentinel, AsciiReplyMax, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "42.5", string(data))
}

func TestReceiveUntilSentinelOverflow(t *testing.T) {
	long := make([]byte, 80)
	for i := range long {
		long[i] = '1'
	}
	addr, _ := serve(t, func(string) []byte { return long })
	tc := open(t, addr)

	require.NoError(t, tc.Send("^X @@ .\r"))
	data, err := tc.ReceiveUntilSentinel(Sentinel, AsciiReplyMax, time.Second)
	assert.True(t, errors.Is(err, ErrReplyOverflow))
	assert.Len(t, data, AsciiReplyMax+1)
}

func TestReceiveConfirmation(t *testing.T) {
	addr, _ := serve(t, func(string) []byte { return []byte{0x00, 0x00} })
	tc := open(t, addr)

	require.NoError(t, tc.Send("1.5 ^X @!\r"))
	data, err := tc.ReceiveConfirmation(time.Second)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00}, data)
}

func TestReceiveConfirmationTimeout(t *testing.T) {
	addr, _ := serve(t, func(string) []byte { return nil })
	tc := open(t, addr)

	require.NoError(t, tc.Send("1.5 ^X @!\r"))
	_, err := tc.ReceiveConfirmation(100 * time.Millisecond)
	assert.True(t, errors.Is(err, ErrWriteRejected))
	assert.True(t, tc.Available(), "a silent controller is not a closed connection")
}

func TestFlushDropsResidue(t *testing.T) {
	addr, _ := serve(t, func(string) []byte { return []byte{0xde, 0xad, 0xbe, 0xef} })
	tc := open(t, addr)

	require.NoError(t, tc.Send("stale\r"))
	assert.Eventually(t, func() bool { return tc.Flush() > 0 }, time.Second, 20*time.Millisecond)
	assert.Equal(t, 0, tc.Flush())
}

func TestClosedPeerMarksDisconnected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			_ = conn.Close()
		}
	}()
	tc := open(t, ln.Addr().String())

	_, err = tc.ReceiveFramed(40, 40)
	assert.Error(t, err)
	assert.False(t, tc.Available())
	assert.True(t, errors.Is(tc.Send("x\r"), ErrNotConnected))
}
