package app

import (
	"context"
	"fmt"
	"io"
	baseoptions "pacbridge/pkg/generic/options"
	"pacbridge/pkg/protocol/opcua"
	opcuaruntime "pacbridge/pkg/protocol/opcua/runtime"
	"pacbridge/pkg/registry"
	"pacbridge/pkg/version/verflag"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/ua"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const ComponentProbe = "pacbridge-probe"

type Options struct {
	Endpoint  string
	Timeout   time.Duration
	Namespace string
	Logging   baseoptions.LoggingConfiguration

	// dial is replaced in tests.
	dial func(ctx context.Context, endpoint string, timeout time.Duration) (opcuaruntime.Messenger, error)
}

func NewDefaultOptions() *Options {
	return &Options{
		Endpoint:  "opc.tcp://localhost:4840",
		Timeout:   5 * time.Second,
		Namespace: registry.DefaultServerName,
		Logging:   baseoptions.NewDefaultLoggingConfiguration(),
		dial: func(ctx context.Context, endpoint string, timeout time.Duration) (opcuaruntime.Messenger, error) {
			return opcuaruntime.Dial(ctx, endpoint, timeout)
		},
	}
}

func (o *Options) probe(ctx context.Context) (*opcua.Probe, error) {
	m, err := o.dial(ctx, o.Endpoint, o.Timeout)
	if err != nil {
		return nil, err
	}
	return opcua.NewProbe(m, func() (opcuaruntime.Messenger, error) {
		return o.dial(ctx, o.Endpoint, o.Timeout)
	}), nil
}

func NewProbeCmd() *cobra.Command {
	return newProbeCmd(NewDefaultOptions())
}

func newProbeCmd(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:          ComponentProbe,
		Short:        "Inspect a running pacbridge OPC-UA server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verflag.PrintAndExitIfRequested()
			return o.Logging.ValidateAndApply()
		},
	}
	fs := cmd.PersistentFlags()
	fs.StringVarP(&o.Endpoint, "endpoint", "e", o.Endpoint, "OPC-UA endpoint of the bridge")
	fs.DurationVar(&o.Timeout, "timeout", o.Timeout, "Request timeout")
	fs.StringVar(&o.Namespace, "namespace", o.Namespace, "Namespace name holding the variable nodes")
	o.Logging.BindLoggingFlags(fs)
	verflag.AddFlags(fs)

	cmd.AddCommand(newBrowseCmd(o), newReadCmd(o), newWriteCmd(o), newCheckCmd(o))
	return cmd
}

func newBrowseCmd(o *Options) *cobra.Command {
	var (
		root  = ua.NewNumericNodeID(0, id.ObjectsFolder).String()
		depth = 3
		match string
	)
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "List the nodes below a root node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := o.probe(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close(cmd.Context())
			entries, err := p.Browse(cmd.Context(), root, depth, match)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DEPTH\tNODE\tBROWSE NAME\tCLASS")
			for _, e := range entries {
				fmt.Fprintf(w, "%d\t%s\t%s\t%v\n", e.Depth, e.NodeID, e.BrowseName, e.NodeClass)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&root, "root", root, "Node to start browsing from")
	cmd.Flags().IntVar(&depth, "depth", depth, "Levels to descend below the root")
	cmd.Flags().StringVar(&match, "match", match, "Only list nodes whose browse name contains this text")
	return cmd
}

func newReadCmd(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "read <nodeID>...",
		Short: "Read the value of one or more nodes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := o.probe(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close(cmd.Context())
			results, err := p.Read(cmd.Context(), args...)
			if err != nil {
				return err
			}
			printReadResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
}

func printReadResults(out io.Writer, results []opcua.ReadResult) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tVALUE\tSTATUS")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%v\t%s\n", r.NodeID, r.Value, statusText(r.Status))
	}
	_ = w.Flush()
}

func statusText(s ua.StatusCode) string {
	if s == ua.StatusOK {
		return "Good"
	}
	return s.Error()
}

// parseValue converts the command line text to the variant type of the node.
func parseValue(text, typ string) (interface{}, error) {
	switch typ {
	case "float":
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %q as float", text)
		}
		return float32(f), nil
	case "int32":
		i, err := strconv.ParseInt(text, 10, 32)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %q as int32", text)
		}
		return int32(i), nil
	default:
		return nil, errors.Errorf("unknown type %q, want float or int32", typ)
	}
}

func newWriteCmd(o *Options) *cobra.Command {
	typ := "float"
	cmd := &cobra.Command{
		Use:   "write <nodeID> <value>",
		Short: "Write a value to a node and read it back",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := parseValue(args[1], typ)
			if err != nil {
				return err
			}
			p, err := o.probe(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close(cmd.Context())
			status, err := p.Write(cmd.Context(), args[0], value)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "write %s = %v: %s\n", args[0], value, statusText(status))
			if status != ua.StatusOK {
				return errors.Wrap(opcuaruntime.ErrBadStatus, status.Error())
			}
			results, err := p.Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printReadResults(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", typ, "Value type: float or int32")
	return cmd
}

func newCheckCmd(o *Options) *cobra.Command {
	var (
		fields = registry.DefaultCriticalFields
		value  = float32(99.5)
		settle = 3 * time.Second
	)
	cmd := &cobra.Command{
		Use:   "check <tag>",
		Short: "Write each setpoint of a tag, verify it reads back and restore it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := o.probe(cmd.Context())
			if err != nil {
				return err
			}
			defer p.Close(cmd.Context())
			ns, err := p.NamespaceIndex(cmd.Context(), o.Namespace)
			if err != nil {
				return err
			}
			results, err := p.Check(cmd.Context(), ns, args[0], fields, value, settle)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NODE\tORIGINAL\tWRITTEN\tREAD BACK\tSTATUS\tRESULT")
			failed := 0
			for _, r := range results {
				result := "ok"
				if !r.OK {
					result = "FAILED"
					failed++
				}
				fmt.Fprintf(w, "%s\t%v\t%v\t%v\t%s\t%s\n", r.NodeID, r.Original, r.Written, r.ReadBack, statusText(r.Status), result)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if failed > 0 {
				return errors.Errorf("%d of %d writes did not read back", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&fields, "fields", fields, "Fields written under the tag")
	cmd.Flags().Float32Var(&value, "value", value, "Test value written to every field")
	cmd.Flags().DurationVar(&settle, "settle", settle, "Wait between write and read back")
	return cmd
}
