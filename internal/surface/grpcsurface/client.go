package grpcsurface

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client receives frames from a Surface.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for the viewer service at addr. The connection is
// established lazily by the first Stream call.
func Dial(addr string) (*Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMsgSize)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn}, nil
}

// Stream calls fn for every frame until the server ends the stream, ctx is
// cancelled, or fn returns an error. A clean end of stream returns nil.
func (c *Client) Stream(ctx context.Context, fn func(Frame) error) error {
	stream, err := c.conn.NewStream(ctx, &viewerServiceDesc.Streams[0], streamFramesMethod)
	if err != nil {
		return fmt.Errorf("open stream: %w", err)
	}
	if err := stream.SendMsg(&emptypb.Empty{}); err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("close send: %w", err)
	}
	for {
		msg := new(wrapperspb.BytesValue)
		if err := stream.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		frame, err := DecodeFrame(msg.GetValue())
		if err != nil {
			return err
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
