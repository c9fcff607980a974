package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/VeloF2025/PAI-sub000/internal/proposal"
)

// #region service-desc
const (
	serviceName  = "learning.Analyzer"
	proposeRoute = "/" + serviceName + "/Propose"
)

// AnalyzerServer is the server side of the analyzer service. Window and
// Proposal travel as protobuf Structs holding their JSON form.
type AnalyzerServer interface {
	Propose(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*AnalyzerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Propose", Handler: proposeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "learning/analyzer.proto",
}

func proposeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AnalyzerServer).Propose(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: proposeRoute}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AnalyzerServer).Propose(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// #endregion service-desc

// #region server
type sourceServer struct {
	src proposal.Source
}

// Register serves src as the analyzer service on s.
func Register(s grpc.ServiceRegistrar, src proposal.Source) {
	s.RegisterService(&serviceDesc, &sourceServer{src: src})
}

func (s *sourceServer) Propose(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var w proposal.Window
	if err := fromStruct(req, &w); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode window: %v", err)
	}
	p, err := s.src.Propose(ctx, w)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, status.Error(codes.DeadlineExceeded, err.Error())
		}
		return nil, status.Error(codes.Unknown, err.Error())
	}
	out, err := toStruct(p)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode proposal: %v", err)
	}
	return out, nil
}

// #endregion server

// #region client
// Client is a proposal source backed by a remote analyzer.
type Client struct {
	name     string
	produces proposal.Kind
	cc       grpc.ClientConnInterface
	conn     *grpc.ClientConn
}

// Dial connects to an analyzer at addr. The connection is lazy; errors surface
// on the first Propose.
func Dial(name string, produces proposal.Kind, addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{name: name, produces: produces, cc: conn, conn: conn}, nil
}

// NewClientWithConn wraps an existing connection.
func NewClientWithConn(name string, produces proposal.Kind, cc grpc.ClientConnInterface) *Client {
	return &Client{name: name, produces: produces, cc: cc}
}

func (c *Client) Name() string { return c.name }

// Propose sends the window and decodes the returned proposal.
func (c *Client) Propose(ctx context.Context, w proposal.Window) (proposal.Proposal, error) {
	req, err := toStruct(w)
	if err != nil {
		return proposal.Proposal{}, fmt.Errorf("encode window: %w", err)
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, proposeRoute, req, resp); err != nil {
		st := status.Convert(err)
		switch st.Code() {
		case codes.DeadlineExceeded:
			return proposal.Proposal{}, context.DeadlineExceeded
		case codes.Canceled:
			return proposal.Proposal{}, context.Canceled
		}
		return proposal.Proposal{}, errors.New(st.Message())
	}

	var p proposal.Proposal
	if err := fromStruct(resp, &p); err != nil {
		return proposal.Proposal{}, fmt.Errorf("%w: decode response: %v", proposal.ErrMalformed, err)
	}
	if p.Kind == "" {
		p.Kind = c.produces
	}
	return p, nil
}

// Close shuts down the connection if the client owns it.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion client

// #region dialer
// Dialer builds clients from registry entries and closes them together.
type Dialer struct {
	Options []grpc.DialOption

	mu      sync.Mutex
	clients []*Client
}

// Factory is a proposal.Factory for the grpc transport.
func (d *Dialer) Factory(s proposal.Spec) (proposal.Source, error) {
	if s.Address == "" {
		return nil, errors.New("grpc source needs an address")
	}
	c, err := Dial(s.Name, s.Proposes, s.Address, d.Options...)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.clients = append(d.clients, c)
	d.mu.Unlock()
	return c, nil
}

// Close closes every client built so far.
func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for _, c := range d.clients {
		errs = append(errs, c.Close())
	}
	d.clients = nil
	return errors.Join(errs...)
}

// #endregion dialer

// #region helpers
func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func fromStruct(s *structpb.Struct, v any) error {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// #endregion helpers
