package options

import (
	"fmt"
	"strconv"
	"time"
)

func Validate(o *Options) []error {
	var errs []error
	if err := o.BaseOptions.ValidateAndApply(); err != nil {
		errs = append(errs, err)
	}
	if p, err := strconv.Atoi(o.Port); err != nil || p <= 0 || p > 65535 {
		errs = append(errs, fmt.Errorf("--port %q must be a port number", o.Port))
	}
	if len(o.TagsFile) == 0 {
		errs = append(errs, fmt.Errorf("--tags-file is required"))
	}
	if (len(o.CertFile) == 0) != (len(o.KeyFile) == 0) {
		errs = append(errs, fmt.Errorf("--tls-cert-file and --tls-private-key-file must be set together"))
	}
	if o.Pac.Port < 0 || o.Pac.Port > 65535 {
		errs = append(errs, fmt.Errorf("--pac-port %d out of range", o.Pac.Port))
	}
	if o.OpcUa.Port < 0 || o.OpcUa.Port > 65535 {
		errs = append(errs, fmt.Errorf("--opcua-port %d out of range", o.OpcUa.Port))
	}
	if o.Pac.Retry.Retries < 0 {
		errs = append(errs, fmt.Errorf("--pac-retries must not be negative"))
	}
	durations := []struct {
		flag  string
		value time.Duration
	}{
		{"--pac-timeout", o.Pac.Timeout},
		{"--pac-cache-ttl", o.Pac.CacheTTL},
		{"--update-interval", o.Scheduler.UpdateInterval},
		{"--reconnect-interval", o.Scheduler.ReconnectInterval},
		{"--write-hold", o.Scheduler.WriteHold},
		{"--single-gap", o.Scheduler.SingleGap},
		{"--table-gap", o.Scheduler.TableGap},
		{"--opcua-sweep-interval", o.OpcUa.SweepInterval},
	}
	for _, d := range durations {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.flag))
		}
	}
	if o.Publish.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("--mqtt-qos %d must be 0, 1 or 2", o.Publish.MQTT.QoS))
	}
	if len(o.Publish.Kafka.Brokers) > 0 && len(o.Publish.Kafka.Topic) == 0 {
		errs = append(errs, fmt.Errorf("--kafka-topic is required with --kafka-brokers"))
	}
	return errs
}
