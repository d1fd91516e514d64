package options

import (
	"net"
	"pacbridge/cmd/gateway/config"
	"pacbridge/pkg/gateway"
	baseoptions "pacbridge/pkg/generic/options"
	"pacbridge/pkg/nodestore"
	"pacbridge/pkg/protocol/opcua"
	"pacbridge/pkg/protocol/pac"
	"pacbridge/pkg/publish"
	"pacbridge/pkg/registry"
	"pacbridge/pkg/scheduler"
	"pacbridge/pkg/utils/uuidutil"
	v1 "pacbridge/pkg/v1"
	"pacbridge/pkg/version"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

type PacOptions struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	pac.Options
}

type SchedulerOptions struct {
	UpdateInterval      time.Duration `json:"updateInterval"`
	ReconnectInterval   time.Duration `json:"reconnectInterval"`
	MarkBadOnDisconnect bool          `json:"markBadOnDisconnect"`
	WriteHold           time.Duration `json:"writeHold"`
	SingleGap           time.Duration `json:"singleGap"`
	TableGap            time.Duration `json:"tableGap"`
	CriticalFields      []string      `json:"criticalFields"`
}

type OpcUaOptions struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	ServerName string `json:"serverName"`
	// SweepInterval bounds how long an unannounced client write waits
	// before it is settled.
	SweepInterval time.Duration `json:"sweepInterval"`
	// MemoryStore keeps the nodes in process instead of serving OPC-UA.
	MemoryStore bool `json:"memoryStore"`
}

type PublishOptions struct {
	MQTT  publish.MQTTOptions  `json:"mqtt"`
	Kafka publish.KafkaOptions `json:"kafka"`
	Redis publish.RedisOptions `json:"redis"`
}

// Options are the gateway settings. PAC address, PAC timeout, OPC-UA port,
// server name and update interval left at zero are taken from the tags
// document.
type Options struct {
	Port         string           `json:"port"`
	Wait         time.Duration    `json:"graceful-timeout"`
	CertFile     string           `json:"tls-cert-file"`
	KeyFile      string           `json:"tls-private-key-file"`
	TagsFile     string           `json:"tags-file"`
	DiskPaths    []string         `json:"disk-paths"`
	Pac          PacOptions       `json:"pac"`
	Scheduler    SchedulerOptions `json:"scheduler"`
	OpcUa        OpcUaOptions     `json:"opcua"`
	Publish      PublishOptions   `json:"publish"`
	baseoptions.BaseOptions
}

// ComponentName names the daemon in logs, help and gateway meta.
const ComponentName = "pacbridge-gateway"

const (
	_defaultPort     = "32200"
	_defaultWait     = 15 * time.Second
	_defaultTagsFile = "tags.json"
	_defaultTopic    = "pacbridge/values"
)

func NewDefaultOptions() *Options {
	pacOpts := pac.DefaultOptions()
	pacOpts.Timeout = 0
	return &Options{
		Port:      _defaultPort,
		Wait:      _defaultWait,
		TagsFile:  _defaultTagsFile,
		DiskPaths: []string{"/"},
		Pac:       PacOptions{Options: pacOpts},
		Scheduler: SchedulerOptions{
			ReconnectInterval:   scheduler.DefaultReconnectInterval,
			MarkBadOnDisconnect: true,
			SingleGap:           scheduler.DefaultSingleGap,
			TableGap:            scheduler.DefaultTableGap,
			CriticalFields:      registry.DefaultCriticalFields,
		},
		OpcUa: OpcUaOptions{Host: "0.0.0.0", SweepInterval: opcua.DefaultSweepInterval},
		Publish: PublishOptions{
			MQTT:  publish.MQTTOptions{Topic: _defaultTopic},
			Kafka: publish.KafkaOptions{Topic: "pacbridge-values"},
			Redis: publish.RedisOptions{Prefix: "pacbridge", Channel: _defaultTopic},
		},
		BaseOptions: baseoptions.NewDefaultBaseOptions(),
	}
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	// refer to node port assignment https://rancher.com/docs/rancher/v2.x/en/installation/requirements/ports/#commonly-used-ports
	fs.StringVarP(&o.Port, "port", "P", o.Port, "Port exposed")
	fs.DurationVar(&o.Wait, "graceful-timeout", o.Wait, "The duration for which the server gracefully wait for existing connections to finish - e.g. 15s or 1m")
	fs.StringVar(&o.CertFile, "tls-cert-file", o.CertFile, "File containing the x509 certificate for HTTPS")
	fs.StringVar(&o.KeyFile, "tls-private-key-file", o.KeyFile, "File containing the x509 private key matching --tls-cert-file")
	fs.StringVarP(&o.TagsFile, "tags-file", "t", o.TagsFile, "Tags document (JSON or YAML) declaring the exposed variables")
	fs.StringSliceVar(&o.DiskPaths, "disk-paths", o.DiskPaths, "Mount points reported by the disk status endpoint")

	fs.StringVar(&o.Pac.Address, "pac-address", o.Pac.Address, "PAC controller address, defaults to pac_config.ip")
	fs.IntVar(&o.Pac.Port, "pac-port", o.Pac.Port, "PAC controller port, defaults to pac_config.port")
	fs.DurationVar(&o.Pac.Timeout, "pac-timeout", o.Pac.Timeout, "PAC socket timeout, defaults to pac_config.timeout_ms")
	fs.BoolVar(&o.Pac.CacheEnabled, "pac-cache", o.Pac.CacheEnabled, "Cache table reads for --pac-cache-ttl")
	fs.DurationVar(&o.Pac.CacheTTL, "pac-cache-ttl", o.Pac.CacheTTL, "Lifetime of a cached table read")
	fs.IntVar(&o.Pac.Retry.Retries, "pac-retries", o.Pac.Retry.Retries, "Retries of a failed table read")
	fs.DurationVar(&o.Pac.Retry.Backoff, "pac-retry-backoff", o.Pac.Retry.Backoff, "Pause before retrying a table read")

	fs.DurationVar(&o.Scheduler.UpdateInterval, "update-interval", o.Scheduler.UpdateInterval, "Time between update cycles, defaults to server_config.update_interval_ms")
	fs.DurationVar(&o.Scheduler.ReconnectInterval, "reconnect-interval", o.Scheduler.ReconnectInterval, "Minimum time between PAC reconnect attempts")
	fs.BoolVar(&o.Scheduler.MarkBadOnDisconnect, "mark-bad-on-disconnect", o.Scheduler.MarkBadOnDisconnect, "Mark every node bad while the PAC is unreachable")
	fs.DurationVar(&o.Scheduler.WriteHold, "write-hold", o.Scheduler.WriteHold, "How long polled values are held back after a write, 0 means twice the update interval")
	fs.DurationVar(&o.Scheduler.SingleGap, "single-gap", o.Scheduler.SingleGap, "Pause between single variable reads")
	fs.DurationVar(&o.Scheduler.TableGap, "table-gap", o.Scheduler.TableGap, "Pause between table reads")
	fs.StringSliceVar(&o.Scheduler.CriticalFields, "critical-fields", o.Scheduler.CriticalFields, "Field names whose writes are held before the controller is written")

	fs.StringVar(&o.OpcUa.Host, "opcua-host", o.OpcUa.Host, "OPC-UA listen host")
	fs.IntVar(&o.OpcUa.Port, "opcua-port", o.OpcUa.Port, "OPC-UA listen port, defaults to server_config.opcua_port")
	fs.StringVar(&o.OpcUa.ServerName, "opcua-server-name", o.OpcUa.ServerName, "OPC-UA namespace name, defaults to server_config.server_name")
	fs.DurationVar(&o.OpcUa.SweepInterval, "opcua-sweep-interval", o.OpcUa.SweepInterval, "Interval at which client writes are settled even without a notification")
	fs.BoolVar(&o.OpcUa.MemoryStore, "memory-store", o.OpcUa.MemoryStore, "Keep nodes in memory and serve only the HTTP API")

	fs.StringVar(&o.Publish.MQTT.Broker, "mqtt-broker", o.Publish.MQTT.Broker, "MQTT broker URL, e.g. tcp://127.0.0.1:1883. Empty disables MQTT")
	fs.StringVar(&o.Publish.MQTT.Topic, "mqtt-topic", o.Publish.MQTT.Topic, "MQTT topic for changed values")
	fs.StringVar(&o.Publish.MQTT.ClientID, "mqtt-client-id", o.Publish.MQTT.ClientID, "MQTT client id, random when empty")
	fs.StringVar(&o.Publish.MQTT.Username, "mqtt-username", o.Publish.MQTT.Username, "MQTT username")
	fs.StringVar(&o.Publish.MQTT.Password, "mqtt-password", o.Publish.MQTT.Password, "MQTT password")
	fs.Uint8Var(&o.Publish.MQTT.QoS, "mqtt-qos", o.Publish.MQTT.QoS, "MQTT QoS 0, 1 or 2")

	fs.StringSliceVar(&o.Publish.Kafka.Brokers, "kafka-brokers", o.Publish.Kafka.Brokers, "Kafka bootstrap brokers. Empty disables Kafka")
	fs.StringVar(&o.Publish.Kafka.Topic, "kafka-topic", o.Publish.Kafka.Topic, "Kafka topic for changed values")

	fs.StringVar(&o.Publish.Redis.Address, "redis-address", o.Publish.Redis.Address, "Redis address host:port. Empty disables Redis")
	fs.StringVar(&o.Publish.Redis.Password, "redis-password", o.Publish.Redis.Password, "Redis password")
	fs.IntVar(&o.Publish.Redis.DB, "redis-db", o.Publish.Redis.DB, "Redis database")
	fs.StringVar(&o.Publish.Redis.Prefix, "redis-prefix", o.Publish.Redis.Prefix, "Redis key prefix")
	fs.StringVar(&o.Publish.Redis.Channel, "redis-channel", o.Publish.Redis.Channel, "Redis channel for changed values, empty disables PUBLISH")
}

// ApplyDocument fills the settings left at zero from the tags document.
func (o *Options) ApplyDocument(doc *v1.TagsDocument) {
	registry.SetDefaults(doc)
	if len(o.Pac.Address) == 0 {
		o.Pac.Address = doc.PacConfig.IP
	}
	if o.Pac.Port == 0 {
		o.Pac.Port = doc.PacConfig.Port
	}
	if o.Pac.Timeout == 0 {
		o.Pac.Timeout = time.Duration(doc.PacConfig.TimeoutMs) * time.Millisecond
	}
	if o.OpcUa.Port == 0 {
		o.OpcUa.Port = doc.ServerConfig.OpcUaPort
	}
	if len(o.OpcUa.ServerName) == 0 {
		o.OpcUa.ServerName = doc.ServerConfig.ServerName
	}
	if o.Scheduler.UpdateInterval == 0 {
		o.Scheduler.UpdateInterval = time.Duration(doc.ServerConfig.UpdateIntervalMs) * time.Millisecond
	}
	if len(o.Publish.MQTT.Broker) > 0 && len(o.Publish.MQTT.ClientID) == 0 {
		o.Publish.MQTT.ClientID = "pacbridge-" + uuidutil.ShortUUID()
	}
}

func (o *Options) SchedulerOptions() scheduler.Options {
	so := scheduler.DefaultOptions()
	so.Address = o.Pac.Address
	so.Port = o.Pac.Port
	so.UpdateInterval = o.Scheduler.UpdateInterval
	so.ReconnectInterval = o.Scheduler.ReconnectInterval
	so.MarkBadOnDisconnect = o.Scheduler.MarkBadOnDisconnect
	so.WriteHold = o.Scheduler.WriteHold
	so.SingleGap = o.Scheduler.SingleGap
	so.TableGap = o.Scheduler.TableGap
	return so
}

// Config loads the tags document and builds every component of the bridge.
// Nothing is started.
func (o *Options) Config() (*config.Config, error) {
	doc, err := registry.Load(o.TagsFile)
	if err != nil {
		return nil, err
	}
	o.ApplyDocument(doc)
	reg, err := registry.Build(doc, registry.WithCriticalFields(o.Scheduler.CriticalFields...))
	if err != nil {
		return nil, err
	}

	c := &config.Config{
		Registry: reg,
		CertFile: o.CertFile,
		KeyFile:  o.KeyFile,
	}
	endpoint := "memory"
	if o.OpcUa.MemoryStore {
		c.Store = nodestore.NewMemoryStore()
	} else {
		srv := opcua.NewServer(opcua.Options{
			Host:          o.OpcUa.Host,
			Port:          o.OpcUa.Port,
			ServerName:    o.OpcUa.ServerName,
			SweepInterval: o.OpcUa.SweepInterval,
		})
		c.OpcUa = srv
		c.Store = srv
		endpoint = srv.Endpoint()
	}

	sinks, err := o.sinks()
	if err != nil {
		return nil, err
	}
	c.Sink = publish.NewFanout(sinks...)

	c.Scheduler = scheduler.New(o.SchedulerOptions(), reg, c.Store,
		scheduler.PacClientFactory(o.Pac.Options),
		scheduler.WithSink(c.Sink),
	)
	if err := c.Scheduler.CreateNodes(); err != nil {
		c.Sink.Close()
		return nil, err
	}

	c.GatewayMgr = gateway.NewGatewayManager(ComponentName, version.Get().GitVersion,
		gateway.WithDiskPaths(o.DiskPaths...),
		gateway.WithEndpoints(net.JoinHostPort(o.Pac.Address, strconv.Itoa(o.Pac.Port)), endpoint),
	)
	return c, nil
}

func (o *Options) sinks() ([]publish.Sink, error) {
	sinks := make([]publish.Sink, 0, 3)
	if len(o.Publish.MQTT.Broker) > 0 {
		s, err := publish.NewMQTTSink(o.Publish.MQTT)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(o.Publish.Kafka.Brokers) > 0 {
		sinks = append(sinks, publish.NewKafkaSink(o.Publish.Kafka))
	}
	if len(o.Publish.Redis.Address) > 0 {
		sinks = append(sinks, publish.NewRedisSink(o.Publish.Redis))
	}
	return sinks, nil
}
