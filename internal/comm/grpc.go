package comm

import (
	"context"
	"log"
	"net"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	deliverMethod = "/consensus.Mailbox/Deliver"
	maxMessage    = 64 << 20
)

type mailboxServer interface {
	Deliver(context.Context, *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(mailboxServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(mailboxServer).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

var mailboxServiceDesc = grpc.ServiceDesc{
	ServiceName: "consensus.Mailbox",
	HandlerType: (*mailboxServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mailbox.proto",
}

// GRPC is a Communicator whose ranks are separate processes. Every rank
// listens on its own address and delivers messages to peers with a unary
// call; received envelopes wait in a local mailbox until Recv.
type GRPC struct {
	rank   int
	peers  []string
	box    *mailbox
	lis    net.Listener
	server *grpc.Server
	conns  []*grpc.ClientConn
	logger *log.Logger
}

// ListenGRPC starts the server for rank on peers[rank] and prepares
// clients for every other peer. Connections are established lazily; sends
// wait until the peer is reachable.
func ListenGRPC(rank int, peers []string, logger *log.Logger) (*GRPC, error) {
	if err := checkRank(rank, len(peers)); err != nil {
		return nil, err
	}
	lis, err := net.Listen("tcp", peers[rank])
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", peers[rank])
	}
	return newGRPC(rank, peers, lis, logger)
}

func newGRPC(rank int, peers []string, lis net.Listener, logger *log.Logger) (*GRPC, error) {
	if logger == nil {
		logger = log.Default()
	}
	g := &GRPC{
		rank:   rank,
		peers:  peers,
		box:    newMailbox(),
		lis:    lis,
		server: grpc.NewServer(grpc.MaxRecvMsgSize(maxMessage)),
		conns:  make([]*grpc.ClientConn, len(peers)),
		logger: logger,
	}
	g.server.RegisterService(&mailboxServiceDesc, g)

	for i, addr := range peers {
		if i == rank {
			continue
		}
		conn, err := grpc.NewClient(addr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.MaxCallSendMsgSize(maxMessage)))
		if err != nil {
			g.Close()
			return nil, errors.Wrapf(err, "client for rank %d at %s", i, addr)
		}
		g.conns[i] = conn
	}

	go func() {
		if err := g.server.Serve(lis); err != nil {
			g.logger.Printf("mailbox server stopped: %v", err)
		}
	}()
	return g, nil
}

// Addr returns the listening address.
func (g *GRPC) Addr() net.Addr { return g.lis.Addr() }

func (g *GRPC) Rank() int { return g.rank }
func (g *GRPC) Size() int { return len(g.peers) }

// Deliver implements the mailbox service.
func (g *GRPC) Deliver(_ context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	env, err := UnmarshalEnvelope(in.GetValue())
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode envelope: %v", err)
	}
	if checkRank(env.Src, g.Size()) != nil || env.Src == g.rank {
		return nil, status.Errorf(codes.InvalidArgument, "bad source rank %d", env.Src)
	}
	if env.Tag < 0 || env.Tag >= NumTags {
		return nil, status.Errorf(codes.InvalidArgument, "unknown tag %d", env.Tag)
	}
	g.box.deliver(env.Src, env.Tag, env.Data)
	return &emptypb.Empty{}, nil
}

func (g *GRPC) Send(ctx context.Context, dst int, tag Tag, data []float32) error {
	if err := checkRank(dst, g.Size()); err != nil {
		return err
	}
	if dst == g.rank {
		g.box.deliver(g.rank, tag, append([]float32(nil), data...))
		return nil
	}
	env := Envelope{Src: g.rank, Tag: tag, Data: data}
	in := &wrapperspb.BytesValue{Value: env.Marshal()}
	if err := g.conns[dst].Invoke(ctx, deliverMethod, in, new(emptypb.Empty), grpc.WaitForReady(true)); err != nil {
		return errors.Wrapf(err, "send %s to rank %d", tag, dst)
	}
	return nil
}

func (g *GRPC) Recv(ctx context.Context, src int, tag Tag, buf []float32) error {
	if err := checkRank(src, g.Size()); err != nil {
		return err
	}
	return g.box.receive(ctx, src, tag, buf)
}

// Close stops the server and drops every client connection.
func (g *GRPC) Close() error {
	g.box.close()
	g.server.Stop()
	var first error
	for _, c := range g.conns {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return errors.Wrap(first, "close peers")
}
