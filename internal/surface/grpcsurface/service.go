package grpcsurface

import (
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// The viewer service carries frames as wrapperspb.BytesValue so that no
// generated stubs are needed on either side.
const (
	serviceName        = "frameplay.Viewer"
	streamFramesMethod = "/frameplay.Viewer/StreamFrames"
)

// ViewerServer is the server side of the frameplay.Viewer service.
type ViewerServer interface {
	StreamFrames(req *emptypb.Empty, stream grpc.ServerStream) error
}

var viewerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ViewerServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamFrames",
			Handler:       streamFramesHandler,
			ServerStreams: true,
		},
	},
	Metadata: "frameplay/viewer.proto",
}

func streamFramesHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(emptypb.Empty)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ViewerServer).StreamFrames(req, stream)
}

// RegisterViewerServer registers srv on s.
func RegisterViewerServer(s *grpc.Server, srv ViewerServer) {
	s.RegisterService(&viewerServiceDesc, srv)
}
