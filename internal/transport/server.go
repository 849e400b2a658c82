package transport

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"scriptfilter/internal/filter"
	"scriptfilter/internal/logging"
	"scriptfilter/internal/pipeline"
)

type Server struct {
	grpc *grpc.Server
	lis  net.Listener
}

func StartServer(port int, reg pipeline.Registry) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	return NewServer(lis, reg), nil
}

// NewServer registers the control service for reg on lis. A nil reg serves
// Ping only.
func NewServer(lis net.Listener, reg pipeline.Registry) *Server {
	s := &Server{grpc: grpc.NewServer(), lis: lis}
	RegisterControlServer(s.grpc, &control{reg: reg})
	return s
}

func (s *Server) Serve() error {
	return s.grpc.Serve(s.lis)
}

func (s *Server) Stop() {
	s.grpc.GracefulStop()
}

type control struct {
	reg pipeline.Registry
}

func (c *control) Ping(context.Context, *emptypb.Empty) (*structpb.Struct, error) {
	info := filter.PluginInfo()
	filters := []any{}
	if c.reg != nil {
		for _, n := range c.reg.Filters() {
			filters = append(filters, n)
		}
	}
	return structpb.NewStruct(map[string]any{
		"plugin":  info.Name,
		"version": info.Version,
		"filters": filters,
	})
}

func (c *control) Reconfigure(_ context.Context, in *structpb.Struct) (*wrapperspb.BoolValue, error) {
	name, err := c.target(in)
	if err != nil {
		return nil, err
	}
	blob := in.GetFields()["config"].GetStringValue()
	if blob == "" {
		return nil, status.Error(codes.InvalidArgument, "config is required")
	}
	ok, err := c.reg.Reconfigure(name, blob)
	if err != nil {
		return nil, toStatus(err)
	}
	logging.L().Info("filter reconfigured over control plane", "filter", name, "ok", ok)
	return wrapperspb.Bool(ok), nil
}

func (c *control) Status(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	name, err := c.target(in)
	if err != nil {
		return nil, err
	}
	st, err := c.reg.Status(name)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"filter":       name,
		"state":        st.State.String(),
		"health":       st.Health.String(),
		"identity":     st.Identity,
		"enabled":      st.Enabled,
		"encode_names": st.EncodeNames,
		"initialized":  st.Initialized,
	})
}

func (c *control) target(in *structpb.Struct) (string, error) {
	if c.reg == nil {
		return "", status.Error(codes.Unavailable, "no pipeline running")
	}
	name := in.GetFields()["filter"].GetStringValue()
	if name == "" {
		return "", status.Error(codes.InvalidArgument, "filter is required")
	}
	return name, nil
}

func toStatus(err error) error {
	if errors.Is(err, pipeline.ErrUnknownFilter) {
		return status.Error(codes.NotFound, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
