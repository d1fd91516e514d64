package config

import (
	"pacbridge/pkg/gateway"
	"pacbridge/pkg/nodestore"
	"pacbridge/pkg/protocol/opcua"
	"pacbridge/pkg/publish"
	"pacbridge/pkg/registry"
	"pacbridge/pkg/scheduler"
)

type Config struct {
	Registry   *registry.Registry
	Store      nodestore.Store
	OpcUa      *opcua.Server // nil with the memory store
	Scheduler  *scheduler.Scheduler
	Sink       publish.Sink
	GatewayMgr *gateway.Manager
	CertFile   string
	KeyFile    string
}
