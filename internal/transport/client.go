package transport

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

type Client struct {
	cc *grpc.ClientConn
}

func Dial(port int) (*Client, error) {
	return DialTarget(fmt.Sprintf("localhost:%d", port))
}

func DialTarget(target string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc}, nil
}

func (c *Client) Close() error { return c.cc.Close() }

func (c *Client) Ping(ctx context.Context) (map[string]any, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Control_Ping_FullMethodName, &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}

// Reconfigure sends a configuration category blob to one filter.
func (c *Client) Reconfigure(ctx context.Context, filter, blob string) (bool, error) {
	in, err := structpb.NewStruct(map[string]any{"filter": filter, "config": blob})
	if err != nil {
		return false, err
	}
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, Control_Reconfigure_FullMethodName, in, out); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

func (c *Client) Status(ctx context.Context, filter string) (map[string]any, error) {
	in, err := structpb.NewStruct(map[string]any{"filter": filter})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Control_Status_FullMethodName, in, out); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
