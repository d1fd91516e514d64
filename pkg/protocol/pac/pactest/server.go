// Package pactest provides an in-process PAC Control controller for tests.
package pactest

import (
	"bufio"
	"net"
	pacruntime "pacbridge/pkg/protocol/pac/runtime"
	"pacbridge/pkg/runtime"
	"regexp"
	"strconv"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

var (
	rangeRead   = regexp.MustCompile(`^(\d+) 0 \}(\S+) TRange\.\r$`)
	tableWrite  = regexp.MustCompile(`^(\S+) (\d+) \}(\S+) TABLE!\r$`)
	singleRead  = regexp.MustCompile(`^\^(\S+) @@ (F\.|\.)\r$`)
	singleWrite = regexp.MustCompile(`^(\S+) \^(\S+) @!\r$`)
)

// WellFormed reports whether command matches one of the four command forms.
func WellFormed(command string) bool {
	return rangeRead.MatchString(command) || tableWrite.MatchString(command) ||
		singleRead.MatchString(command) || singleWrite.MatchString(command)
}

// Handler may answer a command before the default behaviour. It returns
// handled=false to fall through.
type Handler func(command string) (reply []byte, handled bool)

// Server answers range reads from its float and int32 tables, single reads
// from its tag map, and acknowledges writes with 00 00.
type Server struct {
	ln net.Listener

	mu          sync.Mutex
	floats      map[string][]float32
	ints        map[string][]int32
	tags        map[string]string
	commands    []string
	handler     Handler
	delay       time.Duration
	stallAt     int
	stall       time.Duration
	confirm     []byte
	connections int
	conns       []net.Conn
	wg          sync.WaitGroup
}

func NewServer() (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		ln:      ln,
		floats:  make(map[string][]float32),
		ints:    make(map[string][]int32),
		tags:    make(map[string]string),
		confirm: []byte{0x00, 0x00},
	}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

func (s *Server) HostPort() (string, int) {
	addr := s.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func (s *Server) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// DropConnections closes every accepted socket, as a controller reboot would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		_ = c.Close()
	}
	s.conns = nil
}

func (s *Server) SetFloatTable(table string, values []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.floats[table] = append([]float32(nil), values...)
}

func (s *Server) SetInt32Table(table string, values []int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ints[table] = append([]int32(nil), values...)
}

// SetTag sets the ascii text a single variable read returns, without the
// trailing sentinel.
func (s *Server) SetTag(tag, reply string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[tag] = reply
}

func (s *Server) Tag(tag string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tags[tag]
}

func (s *Server) FloatTable(table string) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float32(nil), s.floats[table]...)
}

func (s *Server) Int32Table(table string) []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int32(nil), s.ints[table]...)
}

func (s *Server) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// SetDelay holds every reply back, widening race windows.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// SetStall splits every longer reply after at bytes and pauses before the
// rest, as a congested link does.
func (s *Server) SetStall(at int, pause time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stallAt = at
	s.stall = pause
}

// SetConfirmation changes the bytes sent after a write.
func (s *Server) SetConfirmation(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirm = append([]byte(nil), b...)
}

func (s *Server) Commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *Server) CountCommands(match func(string) bool) int {
	n := 0
	for _, c := range s.Commands() {
		if match(c) {
			n++
		}
	}
	return n
}

func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.connections++
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		command, err := r.ReadString('\r')
		if err != nil {
			return
		}
		reply := s.answer(command)
		s.mu.Lock()
		delay, stallAt, stall := s.delay, s.stallAt, s.stall
		s.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if len(reply) == 0 {
			continue
		}
		if stallAt > 0 && len(reply) > stallAt {
			if _, err := conn.Write(reply[:stallAt]); err != nil {
				return
			}
			time.Sleep(stall)
			reply = reply[stallAt:]
		}
		if _, err := conn.Write(reply); err != nil {
			return
		}
	}
}

func (s *Server) answer(command string) []byte {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	handler := s.handler
	s.mu.Unlock()

	if handler != nil {
		if reply, handled := handler(command); handled {
			return reply
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case rangeRead.MatchString(command):
		m := rangeRead.FindStringSubmatch(command)
		return s.frame(m[2])
	case tableWrite.MatchString(command):
		m := tableWrite.FindStringSubmatch(command)
		index, _ := strconv.Atoi(m[2])
		s.store(m[3], index, m[1])
		return s.confirm
	case singleRead.MatchString(command):
		m := singleRead.FindStringSubmatch(command)
		if v, ok := s.tags[m[1]]; ok {
			return []byte(v + " ")
		}
		return []byte("0 ")
	case singleWrite.MatchString(command):
		m := singleWrite.FindStringSubmatch(command)
		s.tags[m[2]] = m[1]
		return s.confirm
	}
	klog.V(4).InfoS("Fake pac received unknown command", "command", command)
	return []byte("\x00\x00Unknown command\r\n")
}

// frame renders a table as the controller does: a two byte header and the
// table's native number of elements.
func (s *Server) frame(table string) []byte {
	elements := runtime.NativeFrameElements(table)
	header := []byte{0x00, 0x00}
	if runtime.IsAlarmTable(table) {
		values, ok := s.ints[table]
		if !ok {
			return []byte("\x00\x00Unknown table\r\n")
		}
		values = pad(values, elements)
		return append(header, pacruntime.Int32sToBytes(values)...)
	}
	values, ok := s.floats[table]
	if !ok {
		return []byte("\x00\x00Unknown table\r\n")
	}
	values = pad(values, elements)
	return append(header, pacruntime.FloatsToBytes(values)...)
}

func pad[T float32 | int32](values []T, n int) []T {
	out := make([]T, n)
	copy(out, values)
	return out
}

func (s *Server) store(table string, index int, text string) {
	if runtime.IsAlarmTable(table) {
		v, _ := strconv.ParseFloat(text, 64)
		values := s.ints[table]
		for len(values) <= index {
			values = append(values, 0)
		}
		values[index] = int32(v)
		s.ints[table] = values
		return
	}
	v, _ := strconv.ParseFloat(text, 32)
	values := s.floats[table]
	for len(values) <= index {
		values = append(values, 0)
	}
	values[index] = float32(v)
	s.floats[table] = values
}
