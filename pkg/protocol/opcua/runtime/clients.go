package runtime

import (
	"context"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Messenger is the set of OPC-UA services the probe uses.
type Messenger interface {
	Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error)
	Write(ctx context.Context, req *ua.WriteRequest) (*ua.WriteResponse, error)
	Browse(ctx context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error)
	Close(ctx context.Context)
	Available() bool
}

type UaClient struct {
	Timeout time.Duration
	Client  *opcua.Client
}

var _ Messenger = (*UaClient)(nil)

// Dial opens an anonymous session without message security.
func Dial(ctx context.Context, endpoint string, timeout time.Duration) (*UaClient, error) {
	c, err := opcua.NewClient(endpoint,
		opcua.SecurityMode(ua.MessageSecurityModeNone),
		opcua.RequestTimeout(timeout),
	)
	if err != nil {
		klog.V(2).InfoS("Failed to get opc ua client", "endpoint", endpoint, "err", err)
		return nil, errors.Wrap(ErrConnectOpcUaServer, err.Error())
	}
	if err := c.Connect(ctx); err != nil {
		klog.V(2).InfoS("Failed to connect opc ua server", "endpoint", endpoint, "err", err)
		return nil, errors.Wrap(ErrConnectOpcUaServer, err.Error())
	}
	return &UaClient{Timeout: timeout, Client: c}, nil
}

func (u *UaClient) Read(ctx context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error) {
	return u.Client.Read(ctx, req)
}

func (u *UaClient) Write(ctx context.Context, req *ua.WriteRequest) (*ua.WriteResponse, error) {
	return u.Client.Write(ctx, req)
}

func (u *UaClient) Browse(ctx context.Context, req *ua.BrowseRequest) (*ua.BrowseResponse, error) {
	return u.Client.Browse(ctx, req)
}

func (u *UaClient) Close(ctx context.Context) {
	_ = u.Client.Close(ctx)
}

func (u *UaClient) Available() bool {
	if u.Client.State() == opcua.Closed || u.Client.State() == opcua.Disconnected {
		return false
	}
	return true
}
