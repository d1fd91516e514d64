package app

import (
	"bytes"
	"context"
	"errors"
	opcuaruntime "pacbridge/pkg/protocol/opcua/runtime"
	"testing"
	"time"

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryServer struct {
	values map[string]interface{}
}

func (m *memoryServer) Read(_ context.Context, req *ua.ReadRequest) (*ua.ReadResponse, error) {
	resp := &ua.ReadResponse{}
	for _, r := range req.NodesToRead {
		v, ok := m.values[r.NodeID.String()]
		if !ok {
			resp.Results = append(resp.Results, &ua.DataValue{Status: ua.StatusBadNodeIDUnknown})
			continue
		}
		resp.Results = append(resp.Results, &ua.DataValue{Status: ua.StatusOK, Value: ua.MustVariant(v)})
	}
	return resp, nil
}

func (m *memoryServer) Write(_ context.Context, req *ua.WriteRequest) (*ua.WriteResponse, error) {
	resp := &ua.WriteResponse{}
	for _, w := range req.NodesToWrite {
		key := w.NodeID.String()
		if _, ok := m.values[key]; !ok {
			resp.Results = append(resp.Results, ua.StatusBadNodeIDUnknown)
			continue
		}
		m.values[key] = w.Value.Value.Value()
		resp.Results = append(resp.Results, ua.StatusOK)
	}
	return resp, nil
}

func (m *memoryServer) Browse(context.Context, *ua.BrowseRequest) (*ua.BrowseResponse, error) {
	return &ua.BrowseResponse{Results: []*ua.BrowseResult{{StatusCode: ua.StatusOK}}}, nil
}

func (m *memoryServer) Close(context.Context) {}

func (m *memoryServer) Available() bool { return true }

func run(t *testing.T, m opcuaruntime.Messenger, args ...string) (string, error) {
	t.Helper()
	o := NewDefaultOptions()
	o.dial = func(context.Context, string, time.Duration) (opcuaruntime.Messenger, error) {
		if m == nil {
			return nil, opcuaruntime.ErrConnectOpcUaServer
		}
		return m, nil
	}
	cmd := newProbeCmd(o)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func newMemoryServer() *memoryServer {
	return &memoryServer{values: map[string]interface{}{
		ua.NewNumericNodeID(0, id.Server_NamespaceArray).String(): []string{"http://opcfoundation.org/UA/", "PAC Control SCADA Server"},
		"ns=1;s=TT_11001.PV":    float32(42.5),
		"ns=1;s=TT_11001.SetHH": float32(80),
		"ns=1;s=TT_11001.SetH":  float32(70),
	}}
}

func TestReadCommand(t *testing.T) {
	out, err := run(t, newMemoryServer(), "read", "ns=1;s=TT_11001.PV", "ns=1;s=Nope")
	require.NoError(t, err)
	assert.Contains(t, out, "ns=1;s=TT_11001.PV")
	assert.Contains(t, out, "42.5")
	assert.Contains(t, out, "Good")
}

func TestWriteCommand(t *testing.T) {
	m := newMemoryServer()
	out, err := run(t, m, "write", "ns=1;s=TT_11001.SetHH", "85.5")
	require.NoError(t, err)
	assert.Equal(t, float32(85.5), m.values["ns=1;s=TT_11001.SetHH"])
	assert.Contains(t, out, "85.5")

	_, err = run(t, m, "write", "ns=1;s=TT_11001.SetHH", "abc")
	assert.Error(t, err)

	_, err = run(t, m, "write", "--type", "int32", "ns=1;s=TT_11001.SetHH", "1.5")
	assert.Error(t, err)

	_, err = run(t, m, "write", "ns=1;s=Missing", "1")
	assert.True(t, errors.Is(err, opcuaruntime.ErrBadStatus))
}

func TestCheckCommand(t *testing.T) {
	m := newMemoryServer()
	out, err := run(t, m, "check", "TT_11001", "--fields", "SetHH,SetH", "--settle", "0s", "--value", "12")
	require.NoError(t, err)
	assert.Contains(t, out, "ns=1;s=TT_11001.SetHH")
	assert.NotContains(t, out, "FAILED")
	// originals restored
	assert.Equal(t, float32(80), m.values["ns=1;s=TT_11001.SetHH"])
	assert.Equal(t, float32(70), m.values["ns=1;s=TT_11001.SetH"])

	_, err = run(t, m, "check", "TT_11001", "--fields", "SetLL", "--settle", "0s")
	assert.Error(t, err)
}

func TestDialFailure(t *testing.T) {
	_, err := run(t, nil, "read", "i=85")
	assert.ErrorIs(t, err, opcuaruntime.ErrConnectOpcUaServer)
}

func TestParseValue(t *testing.T) {
	v, err := parseValue("7", "int32")
	require.NoError(t, err)
	assert.Equal(t, int32(7), v)
	_, err = parseValue("7", "double")
	assert.Error(t, err)
}
