// Package api exposes the contact manager over gRPC as
// ais.contacts.v1.ContactService.
package api

import (
	"context"
	"fmt"
	"math"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/ais-contact-manager/internal/contacts"
	"github.com/signalsfoundry/ais-contact-manager/internal/logging"
	"github.com/signalsfoundry/ais-contact-manager/model"
)

// ContactService implements ContactServiceServer on top of a Manager.
type ContactService struct {
	mgr *contacts.Manager
	log logging.Logger
}

var _ ContactServiceServer = (*ContactService)(nil)

// NewContactService wires the service to mgr.
func NewContactService(mgr *contacts.Manager, log logging.Logger) *ContactService {
	if log == nil {
		log = logging.Noop()
	}
	return &ContactService{mgr: mgr, log: log}
}

func (s *ContactService) logger(ctx context.Context) logging.Logger {
	if l := logging.LoggerFromContext(ctx); l != nil {
		return l
	}
	return s.log
}

// ReportPosition stores one snapshot.
func (s *ContactService) ReportPosition(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	snap, err := SnapshotFromStruct(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	s.mgr.Report(snap)
	s.logger(ctx).Debug(ctx, "position reported",
		logging.Int64("mmsi", int64(snap.MMSI())),
		logging.Int64("timestamp_ms", snap.TimestampMs()),
	)
	return &emptypb.Empty{}, nil
}

// GetFleet returns the fleet at {at_ms}. Without at_ms it returns the
// current fleet; any integer at_ms, zero and negatives included, is a real
// timestamp.
func (s *ContactService) GetFleet(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	at, ok, err := FleetRequestFromStruct(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	_, span := startSpan(ctx, "contacts.FleetAt", 0, attribute.Int64("ais.at_ms", at), attribute.Bool("ais.now", !ok))
	defer span.End()

	var fleet []model.Snapshot
	if ok {
		fleet = s.mgr.FleetAt(at)
	} else {
		fleet = s.mgr.CurrentFleet()
	}
	span.SetAttributes(attribute.Int("ais.fleet_size", len(fleet)))
	return FleetToList(fleet), nil
}

// GetPredictedFleet projects the current fleet by req.Value ms, keyed by
// label.
func (s *ContactService) GetPredictedFleet(ctx context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error) {
	_, span := startSpan(ctx, "contacts.PredictedFleet", 0, attribute.Int64("ais.offset_ms", req.GetValue()))
	defer span.End()

	return LabelledToStruct(s.mgr.PredictedFleet(req.GetValue())), nil
}

// GetPredictedPositions projects one vessel to each requested offset.
func (s *ContactService) GetPredictedPositions(ctx context.Context, req *structpb.Struct) (*structpb.ListValue, error) {
	pr, err := PredictionRequestFromStruct(req)
	if err != nil {
		return nil, ToStatusError(err)
	}
	_, span := startSpan(ctx, "contacts.PredictedPositions", int64(pr.MMSI), attribute.Int("ais.offsets", len(pr.OffsetsMs)))
	defer span.End()

	snaps, err := s.mgr.PredictedPositions(pr.MMSI, pr.OffsetsMs...)
	if err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	return FleetToList(snaps), nil
}

// GetLatest returns the most recently inserted snapshot of vessel
// req.Value.
func (s *ContactService) GetLatest(ctx context.Context, req *wrapperspb.Int64Value) (*structpb.Struct, error) {
	id := req.GetValue()
	if id < math.MinInt32 || id > math.MaxInt32 {
		return nil, ToStatusError(fmt.Errorf("%w: mmsi %d out of range", ErrInvalidRequest, id))
	}
	snap, err := s.mgr.Latest(model.MMSI(id))
	if err != nil {
		return nil, ToStatusError(err)
	}
	return SnapshotToStruct(snap), nil
}

// ExportSnapshots returns every stored history.
func (s *ContactService) ExportSnapshots(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	_, span := startSpan(ctx, "contacts.Export", 0)
	defer span.End()

	return ContactsToStruct(s.mgr.ExportSnapshots()), nil
}

// ImportSnapshots merges (or with replace, swaps in) the given histories.
func (s *ContactService) ImportSnapshots(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	c, replace, err := ImportRequestFromStruct(req)
	if err != nil {
		return nil, ToStatusError(fmt.Errorf("import: %w", err))
	}
	if replace {
		s.mgr.ReplaceSnapshots(c)
	} else {
		s.mgr.ImportSnapshots(c)
	}
	s.logger(ctx).Info(ctx, "snapshots imported over gRPC",
		logging.Int("vessels", len(c)),
		logging.Int("snapshots", c.Len()),
		logging.Any("replace", replace),
	)
	return &emptypb.Empty{}, nil
}
