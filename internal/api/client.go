package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/ais-contact-manager/model"
)

// Client calls ContactService over an existing connection and converts
// replies back to model types. NotFound and InvalidArgument statuses match
// kb.ErrNotFound and ErrInvalidRequest under errors.Is.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	return FromStatusError(c.cc.Invoke(ctx, method, in, out, opts...))
}

// ReportPosition sends one snapshot.
func (c *Client) ReportPosition(ctx context.Context, s model.Snapshot, opts ...grpc.CallOption) error {
	return c.invoke(ctx, MethodReportPosition, SnapshotToStruct(s), new(emptypb.Empty), opts...)
}

// Fleet fetches the fleet at atMs.
func (c *Client) Fleet(ctx context.Context, atMs int64, opts ...grpc.CallOption) ([]model.Snapshot, error) {
	return c.fleet(ctx, FleetRequestToStruct(&atMs), opts...)
}

// CurrentFleet fetches the fleet at the server's now.
func (c *Client) CurrentFleet(ctx context.Context, opts ...grpc.CallOption) ([]model.Snapshot, error) {
	return c.fleet(ctx, FleetRequestToStruct(nil), opts...)
}

func (c *Client) fleet(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) ([]model.Snapshot, error) {
	out := new(structpb.ListValue)
	if err := c.invoke(ctx, MethodGetFleet, req, out, opts...); err != nil {
		return nil, err
	}
	return FleetFromList(out)
}

// PredictedFleet fetches the label-keyed predicted fleet.
func (c *Client) PredictedFleet(ctx context.Context, offsetMs int64, opts ...grpc.CallOption) (map[string]model.Snapshot, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, MethodGetPredictedFleet, wrapperspb.Int64(offsetMs), out, opts...); err != nil {
		return nil, err
	}
	return LabelledFromStruct(out)
}

// PredictedPositions fetches one vessel's projections in offset order.
func (c *Client) PredictedPositions(ctx context.Context, mmsi model.MMSI, offsetsMs []int64, opts ...grpc.CallOption) ([]model.Snapshot, error) {
	out := new(structpb.ListValue)
	req := PredictionRequestToStruct(PredictionRequest{MMSI: mmsi, OffsetsMs: offsetsMs})
	if err := c.invoke(ctx, MethodGetPredictedPositions, req, out, opts...); err != nil {
		return nil, err
	}
	return FleetFromList(out)
}

// Latest fetches a vessel's most recently inserted snapshot.
func (c *Client) Latest(ctx context.Context, mmsi model.MMSI, opts ...grpc.CallOption) (model.Snapshot, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, MethodGetLatest, wrapperspb.Int64(int64(mmsi)), out, opts...); err != nil {
		return model.Snapshot{}, err
	}
	return SnapshotFromStruct(out)
}

// Export fetches every stored history.
func (c *Client) Export(ctx context.Context, opts ...grpc.CallOption) (model.Contacts, error) {
	out := new(structpb.Struct)
	if err := c.invoke(ctx, MethodExportSnapshots, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return ContactsFromStruct(out)
}

// Import sends histories to merge, or to replace the server's store.
func (c *Client) Import(ctx context.Context, contacts model.Contacts, replace bool, opts ...grpc.CallOption) error {
	return c.invoke(ctx, MethodImportSnapshots, ImportRequestToStruct(contacts, replace), new(emptypb.Empty), opts...)
}
