package pac

import (
	"fmt"
	"net"
	pacruntime "pacbridge/pkg/protocol/pac/runtime"
	"pacbridge/pkg/runtime"
	"pacbridge/pkg/runtime/constant"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"k8s.io/klog/v2"
)

type DialFunc func(address string, timeout time.Duration) (pacruntime.Messenger, error)

type Options struct {
	Timeout        time.Duration `json:"timeout"`
	ConfirmTimeout time.Duration `json:"confirmTimeout"`
	CacheEnabled   bool          `json:"cacheEnabled"`
	CacheTTL       time.Duration `json:"cacheTTL"`
	Retry          RetryPolicy   `json:"retry"`
}

func DefaultOptions() Options {
	return Options{
		Timeout:        pacruntime.DefaultTimeout,
		ConfirmTimeout: pacruntime.DefaultConfirmTimeout,
		CacheEnabled:   false,
		CacheTTL:       500 * time.Millisecond,
		Retry:          DefaultRetryPolicy,
	}
}

type Stats struct {
	Reads             uint64 `json:"reads"`
	CacheHits         uint64 `json:"cacheHits"`
	Retries           uint64 `json:"retries"`
	IntegrityFailures uint64 `json:"integrityFailures"`
	Writes            uint64 `json:"writes"`
	WriteFailures     uint64 `json:"writeFailures"`
}

// Client speaks the PAC Control protocol over one socket. Every exchange
// holds mu from flush to the last reply byte, so concurrent callers queue.
type Client struct {
	mu        sync.Mutex
	opts      Options
	dial      DialFunc
	messenger pacruntime.Messenger
	cache     *tableCache
	address   string

	reads             *atomic.Uint64
	cacheHits         *atomic.Uint64
	retries           *atomic.Uint64
	integrityFailures *atomic.Uint64
	writes            *atomic.Uint64
	writeFailures     *atomic.Uint64
}

type Option func(*Client)

// WithDialer replaces the TCP dialer, mostly for tests.
func WithDialer(dial DialFunc) Option {
	return func(c *Client) {
		c.dial = dial
	}
}

func NewClient(opts Options, options ...Option) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = pacruntime.DefaultTimeout
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = pacruntime.DefaultConfirmTimeout
	}
	if opts.Retry.Retries < 0 {
		opts.Retry.Retries = 0
	}
	c := &Client{
		opts:              opts,
		dial:              dialTcp,
		cache:             newTableCache(opts.CacheTTL),
		reads:             atomic.NewUint64(0),
		cacheHits:         atomic.NewUint64(0),
		retries:           atomic.NewUint64(0),
		integrityFailures: atomic.NewUint64(0),
		writes:            atomic.NewUint64(0),
		writeFailures:     atomic.NewUint64(0),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

func dialTcp(address string, timeout time.Duration) (pacruntime.Messenger, error) {
	return pacruntime.Open(address, timeout)
}

// Connect opens the socket. It is a no-op when already connected.
func (c *Client) Connect(ip string, port int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messenger != nil && c.messenger.Available() {
		return true
	}
	if c.messenger != nil {
		c.messenger.Close()
		c.messenger = nil
	}
	c.address = net.JoinHostPort(ip, strconv.Itoa(port))
	m, err := c.dial(c.address, c.opts.Timeout)
	if err != nil {
		klog.V(2).InfoS("Failed to connect pac controller", "address", c.address, "error", err)
		return false
	}
	c.messenger = m
	c.cache.clear()
	return true
}

func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.messenger != nil {
		c.messenger.Close()
		c.messenger = nil
		klog.V(1).InfoS("Disconnected from pac controller", "address", c.address)
	}
}

func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected()
}

func (c *Client) connected() bool {
	return c.messenger != nil && c.messenger.Available()
}

func (c *Client) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

func (c *Client) SetCacheEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.CacheEnabled = enabled
	if !enabled {
		c.cache.clear()
	}
}

func (c *Client) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.clear()
}

func (c *Client) Stats() Stats {
	return Stats{
		Reads:             c.reads.Load(),
		CacheHits:         c.cacheHits.Load(),
		Retries:           c.retries.Load(),
		IntegrityFailures: c.integrityFailures.Load(),
		Writes:            c.writes.Load(),
		WriteFailures:     c.writeFailures.Load(),
	}
}

func tableReadCommand(table string, end int) string {
	return fmt.Sprintf("%d 0 }%s TRange.\r", end, table)
}

func tableWriteCommand(table string, index int, value string) string {
	return fmt.Sprintf("%s %d }%s TABLE!\r", value, index, table)
}

func singleReadCommand(tag string, dt constant.DataType) string {
	if dt == constant.INT32 {
		return "^" + tag + " @@ .\r"
	}
	return "^" + tag + " @@ F.\r"
}

func singleWriteCommand(tag string, value string) string {
	return value + " ^" + tag + " @!\r"
}

// ReadFloatTable reads elements start..end of a float table. The result may
// be shorter than requested when the controller answers with a smaller
// native frame; it is empty when the read failed.
func (c *Client) ReadFloatTable(table string, start, end int) []float32 {
	values, err := c.readTable(table, start, end, constant.FLOAT)
	if err != nil {
		klog.V(2).InfoS("Failed to read pac float table", "table", table, "start", start, "end", end, "error", err)
		return []float32{}
	}
	return values.([]float32)
}

func (c *Client) ReadInt32Table(table string, start, end int) []int32 {
	values, err := c.readTable(table, start, end, constant.INT32)
	if err != nil {
		klog.V(2).InfoS("Failed to read pac int32 table", "table", table, "start", start, "end", end, "error", err)
		return []int32{}
	}
	return values.([]int32)
}

func (c *Client) ReadFloatVariable(table string, index int) float32 {
	values := c.ReadFloatTable(table, index, index)
	if len(values) == 0 {
		return 0
	}
	return values[0]
}

func (c *Client) ReadInt32Variable(table string, index int) int32 {
	values := c.ReadInt32Table(table, index, index)
	if len(values) == 0 {
		return 0
	}
	return values[0]
}

func (c *Client) readTable(table string, start, end int, dt constant.DataType) (interface{}, error) {
	if start < 0 || end < start {
		return nil, errors.Errorf("invalid range %d..%d", start, end)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected() {
		return nil, pacruntime.ErrNotConnected
	}

	key := cacheKey(table, start, end)
	if c.opts.CacheEnabled {
		if values, ok := c.cache.get(key); ok {
			c.cacheHits.Inc()
			klog.V(5).InfoS("Pac cache hit", "key", key)
			return values, nil
		}
	}

	// The controller answers from element 0 with either the requested count
	// or the table's native frame.
	requested := end + 1
	least, most := requested, runtime.NativeFrameElements(table)
	if least > most {
		least, most = most, least
	}
	command := tableReadCommand(table, end)

	var payload []byte
	err := c.opts.Retry.Do(func(attempt int) error {
		if attempt > 0 {
			c.retries.Inc()
			klog.V(2).InfoS("Retrying pac table read", "table", table, "attempt", attempt)
		}
		c.messenger.Flush()
		if err := c.messenger.Send(command); err != nil {
			return err
		}
		c.reads.Inc()
		data, err := c.messenger.ReceiveFramed(least*pacruntime.ElementBytes, most*pacruntime.ElementBytes)
		if err != nil {
			return err
		}
		if err := ValidatePayload(data, table, dt, requested); err != nil {
			c.integrityFailures.Inc()
			return err
		}
		payload = data
		return nil
	})
	if err != nil {
		return nil, err
	}

	var values interface{}
	switch dt {
	case constant.INT32:
		decoded := pacruntime.BytesToInt32s(payload)
		values = sliceRange(decoded, start, end)
	default:
		decoded := pacruntime.BytesToFloats(payload)
		values = sliceRange(decoded, start, end)
	}
	klog.V(5).InfoS("Read pac table", "table", table, "start", start, "end", end, "values", values)

	if c.opts.CacheEnabled {
		c.cache.put(key, values)
	}
	return values, nil
}

func sliceRange[T float32 | int32](decoded []T, start, end int) []T {
	if start >= len(decoded) {
		return []T{}
	}
	stop := end + 1
	if stop > len(decoded) {
		stop = len(decoded)
	}
	out := make([]T, stop-start)
	copy(out, decoded[start:stop])
	return out
}

// ReadSingleFloatVariableByTag reads a named float variable. Failures read
// as 0; a dead connection shows up through IsConnected.
func (c *Client) ReadSingleFloatVariableByTag(tag string) float32 {
	data, err := c.readSingle(tag, constant.FLOAT)
	if err != nil {
		klog.V(2).InfoS("Failed to read pac float variable", "tag", tag, "error", err)
		return 0
	}
	return pacruntime.ParseFloatReply(data)
}

func (c *Client) ReadSingleInt32VariableByTag(tag string) int32 {
	data, err := c.readSingle(tag, constant.INT32)
	if err != nil {
		klog.V(2).InfoS("Failed to read pac int32 variable", "tag", tag, "error", err)
		return 0
	}
	return pacruntime.ParseInt32Reply(data)
}

func (c *Client) readSingle(tag string, dt constant.DataType) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected() {
		return nil, pacruntime.ErrNotConnected
	}
	c.messenger.Flush()
	if err := c.messenger.Send(singleReadCommand(tag, dt)); err != nil {
		return nil, err
	}
	c.reads.Inc()
	data, err := c.messenger.ReceiveUntilSentinel(pacruntime.Sentinel, pacruntime.AsciiReplyMax, c.opts.Timeout)
	if err != nil && !errors.Is(err, pacruntime.ErrReplyOverflow) {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.Errorf("empty reply for %s", tag)
	}
	return data, nil
}

func (c *Client) WriteFloatTableIndex(table string, index int, value float32) bool {
	return c.write(tableWriteCommand(table, index, pacruntime.FormatFloat(value)), "table", table, "index", index, "value", value)
}

func (c *Client) WriteInt32TableIndex(table string, index int, value int32) bool {
	return c.write(tableWriteCommand(table, index, pacruntime.FormatInt32(value)), "table", table, "index", index, "value", value)
}

func (c *Client) WriteSingleFloatVariable(tag string, value float32) bool {
	return c.write(singleWriteCommand(tag, pacruntime.FormatFloat(value)), "tag", tag, "value", value)
}

func (c *Client) WriteSingleInt32Variable(tag string, value int32) bool {
	return c.write(singleWriteCommand(tag, pacruntime.FormatInt32(value)), "tag", tag, "value", value)
}

// write sends command and waits for the 00 00 confirmation. Only a
// confirmed write drops the cache.
func (c *Client) write(command string, keysAndValues ...interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected() {
		klog.V(2).InfoS("Failed to write pac value, not connected", keysAndValues...)
		return false
	}
	c.writes.Inc()
	c.messenger.Flush()
	if err := c.messenger.Send(command); err != nil {
		c.writeFailures.Inc()
		klog.V(2).InfoS("Failed to send pac write", append(keysAndValues, "error", err)...)
		return false
	}
	reply, err := c.messenger.ReceiveConfirmation(c.opts.ConfirmTimeout)
	if err != nil {
		c.writeFailures.Inc()
		klog.V(2).InfoS("Failed to confirm pac write", append(keysAndValues, "error", err)...)
		return false
	}
	if len(reply) != pacruntime.ConfirmBytes || reply[0] != 0x00 || reply[1] != 0x00 {
		c.writeFailures.Inc()
		klog.V(2).InfoS("Pac rejected write", append(keysAndValues, "reply", fmt.Sprintf("% x", reply))...)
		return false
	}
	c.cache.clear()
	klog.V(3).InfoS("Succeed to write pac value", keysAndValues...)
	return true
}
