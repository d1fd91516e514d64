package opcua

import (
	"context"
	"io"
	opcuaruntime "pacbridge/pkg/protocol/opcua/runtime"
	"strings"
	"time"

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Probe inspects a running bridge from the client side.
type Probe struct {
	messenger opcuaruntime.Messenger
	redial    func() (opcuaruntime.Messenger, error)
}

func NewProbe(m opcuaruntime.Messenger, redial func() (opcuaruntime.Messenger, error)) *Probe {
	return &Probe{messenger: m, redial: redial}
}

func (p *Probe) Close(ctx context.Context) {
	p.messenger.Close(ctx)
}

// retry runs fun up to three times. A dropped session is reopened without
// consuming an attempt.
func (p *Probe) retry(fun func(m opcuaruntime.Messenger) error) error {
	reopened := 0
	for i := 0; i < 3; i++ {
		err := fun(p.messenger)
		if err == nil {
			return nil
		}
		switch {
		case (err == io.EOF || errors.Is(err, ua.StatusBadSessionIDInvalid) ||
			errors.Is(err, ua.StatusBadSessionNotActivated)) && p.redial != nil && reopened < 3:
			m, derr := p.redial()
			if derr != nil {
				return derr
			}
			p.messenger = m
			reopened++
			i--
		case errors.Is(err, ua.StatusBadSecureChannelIDInvalid):
			continue
		default:
			klog.V(2).InfoS("Failed to call opc ua server", "err", err)
		}
	}
	return opcuaruntime.ErrManyRetry
}

// BrowseEntry is one node reached while browsing.
type BrowseEntry struct {
	NodeID      string
	BrowseName  string
	DisplayName string
	NodeClass   ua.NodeClass
	Depth       int
}

// Browse walks hierarchical references from root down to depth levels and
// returns the nodes whose browse name contains match.
func (p *Probe) Browse(ctx context.Context, root string, depth int, match string) ([]BrowseEntry, error) {
	rootID, err := ua.ParseNodeID(root)
	if err != nil {
		return nil, errors.Wrapf(err, "parse node id %q", root)
	}
	entries := make([]BrowseEntry, 0)
	seen := map[string]bool{rootID.String(): true}
	var walk func(nodeID *ua.NodeID, level int) error
	walk = func(nodeID *ua.NodeID, level int) error {
		if level > depth {
			return nil
		}
		refs, err := p.references(ctx, nodeID)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if ref.NodeID == nil || ref.NodeID.NodeID == nil {
				continue
			}
			child := ref.NodeID.NodeID
			if seen[child.String()] {
				continue
			}
			seen[child.String()] = true
			e := BrowseEntry{NodeID: child.String(), NodeClass: ref.NodeClass, Depth: level}
			if ref.BrowseName != nil {
				e.BrowseName = ref.BrowseName.Name
			}
			if ref.DisplayName != nil {
				e.DisplayName = ref.DisplayName.Text
			}
			if len(match) == 0 || strings.Contains(e.BrowseName, match) {
				entries = append(entries, e)
			}
			if err := walk(child, level+1); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(rootID, 0); err != nil {
		return nil, err
	}
	return entries, nil
}

func (p *Probe) references(ctx context.Context, nodeID *ua.NodeID) ([]*ua.ReferenceDescription, error) {
	req := &ua.BrowseRequest{
		NodesToBrowse: []*ua.BrowseDescription{{
			NodeID:          nodeID,
			BrowseDirection: ua.BrowseDirectionForward,
			ReferenceTypeID: ua.NewNumericNodeID(0, id.HierarchicalReferences),
			IncludeSubtypes: true,
			ResultMask:      uint32(ua.BrowseResultMaskAll),
		}},
	}
	var resp *ua.BrowseResponse
	if err := p.retry(func(m opcuaruntime.Messenger) error {
		var err error
		resp, err = m.Browse(ctx, req)
		return err
	}); err != nil {
		return nil, errors.Wrapf(err, "browse %s", nodeID)
	}
	if resp == nil || len(resp.Results) == 0 {
		return nil, nil
	}
	if resp.Results[0].StatusCode != ua.StatusOK {
		return nil, errors.Wrapf(opcuaruntime.ErrBadStatus, "browse %s: %s", nodeID, resp.Results[0].StatusCode)
	}
	return resp.Results[0].References, nil
}

// ReadResult is the value of one node.
type ReadResult struct {
	NodeID string
	Value  interface{}
	Status ua.StatusCode
}

func (p *Probe) Read(ctx context.Context, nodeIDs ...string) ([]ReadResult, error) {
	req := &ua.ReadRequest{TimestampsToReturn: ua.TimestampsToReturnBoth}
	for _, s := range nodeIDs {
		nodeID, err := ua.ParseNodeID(s)
		if err != nil {
			return nil, errors.Wrapf(err, "parse node id %q", s)
		}
		req.NodesToRead = append(req.NodesToRead, &ua.ReadValueID{NodeID: nodeID, AttributeID: ua.AttributeIDValue})
	}
	var resp *ua.ReadResponse
	if err := p.retry(func(m opcuaruntime.Messenger) error {
		var err error
		resp, err = m.Read(ctx, req)
		return err
	}); err != nil {
		return nil, err
	}
	results := make([]ReadResult, 0, len(nodeIDs))
	for i, s := range nodeIDs {
		r := ReadResult{NodeID: s, Status: ua.StatusBadNoData}
		if resp != nil && i < len(resp.Results) && resp.Results[i] != nil {
			r.Status = resp.Results[i].Status
			if resp.Results[i].Value != nil {
				r.Value = resp.Results[i].Value.Value()
			}
		}
		results = append(results, r)
	}
	return results, nil
}

// Write writes one value and returns the status the server answered with.
func (p *Probe) Write(ctx context.Context, nodeID string, value interface{}) (ua.StatusCode, error) {
	parsed, err := ua.ParseNodeID(nodeID)
	if err != nil {
		return ua.StatusBadNodeIDInvalid, errors.Wrapf(err, "parse node id %q", nodeID)
	}
	variant, err := ua.NewVariant(value)
	if err != nil {
		return ua.StatusBadTypeMismatch, errors.Wrapf(err, "encode %v", value)
	}
	req := &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{{
			NodeID:      parsed,
			AttributeID: ua.AttributeIDValue,
			Value: &ua.DataValue{
				EncodingMask: ua.DataValueValue,
				Value:        variant,
			},
		}},
	}
	var resp *ua.WriteResponse
	if err := p.retry(func(m opcuaruntime.Messenger) error {
		var err error
		resp, err = m.Write(ctx, req)
		return err
	}); err != nil {
		return ua.StatusBad, err
	}
	if resp == nil || len(resp.Results) == 0 {
		return ua.StatusBad, errors.Wrap(opcuaruntime.ErrBadStatus, "empty write response")
	}
	return resp.Results[0], nil
}

// NamespaceIndex looks up a namespace by name in the server namespace array.
func (p *Probe) NamespaceIndex(ctx context.Context, name string) (uint16, error) {
	results, err := p.Read(ctx, ua.NewNumericNodeID(0, id.Server_NamespaceArray).String())
	if err != nil {
		return 0, err
	}
	names, ok := results[0].Value.([]string)
	if !ok {
		return 0, errors.Wrapf(opcuaruntime.ErrBadStatus, "namespace array: %s", results[0].Status)
	}
	for i, n := range names {
		if n == name {
			return uint16(i), nil
		}
	}
	return 0, errors.Wrap(opcuaruntime.ErrNamespaceNotFound, name)
}

// CheckResult reports one write and read back of a field.
type CheckResult struct {
	NodeID   string
	Original interface{}
	Written  float32
	ReadBack interface{}
	Status   ua.StatusCode
	OK       bool
}

// Check writes value to <tag>.<field> for each field, waits settle, reads
// the node back and restores the original value.
func (p *Probe) Check(ctx context.Context, ns uint16, tag string, fields []string, value float32, settle time.Duration) ([]CheckResult, error) {
	results := make([]CheckResult, 0, len(fields))
	for _, f := range fields {
		nodeID := ua.NewStringNodeID(ns, tag+"."+f).String()
		r := CheckResult{NodeID: nodeID, Written: value}

		before, err := p.Read(ctx, nodeID)
		if err != nil {
			return results, err
		}
		r.Original = before[0].Value

		r.Status, err = p.Write(ctx, nodeID, value)
		if err != nil {
			return results, err
		}
		if r.Status == ua.StatusOK {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(settle):
			}
			after, err := p.Read(ctx, nodeID)
			if err != nil {
				return results, err
			}
			r.ReadBack = after[0].Value
			if got, ok := r.ReadBack.(float32); ok && got == value {
				r.OK = true
			}
			if r.Original != nil {
				if _, err := p.Write(ctx, nodeID, r.Original); err != nil {
					klog.V(2).InfoS("Failed to restore original value", "node", nodeID, "err", err)
				}
			}
		}
		results = append(results, r)
	}
	return results, nil
}
