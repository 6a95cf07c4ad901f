package api

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/ais-contact-manager/internal/contacts"
	"github.com/signalsfoundry/ais-contact-manager/internal/logging"
	"github.com/signalsfoundry/ais-contact-manager/kb"
	"github.com/signalsfoundry/ais-contact-manager/model"
	"github.com/signalsfoundry/ais-contact-manager/timectrl"
)

func startServer(t *testing.T, mgr *contacts.Manager) (*Client, *grpc.ClientConn) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RequestIDUnaryServerInterceptor(logging.Noop()),
		TracingUnaryServerInterceptor(),
		ErrorMappingUnaryServerInterceptor(),
	))
	RegisterContactServiceServer(server, NewContactService(mgr, nil))
	go func() { _ = server.Serve(lis) }()
	t.Cleanup(server.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(RequestIDUnaryClientInterceptor()),
	)
	if err != nil {
		t.Fatalf("grpc.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(conn), conn
}

func newManagerAt(nowMs int64) *contacts.Manager {
	clock := timectrl.NewTimeController(time.UnixMilli(nowMs), time.Second, timectrl.Accelerated)
	return contacts.NewManager(nil, nil, contacts.WithClock(clock))
}

func TestContactServiceScenarioA(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, conn := startServer(t, newManagerAt(10_000))

	seed := map[model.MMSI]struct {
		label string
		ts    []int64
	}{
		1: {"A", []int64{0, 2000, 2423, 3023, 3342}},
		2: {"B", []int64{213, 768, 1234, 1762, 2423, 2987}},
		3: {"C", []int64{1256}},
	}
	for id, v := range seed {
		for _, ts := range v.ts {
			if err := client.ReportPosition(ctx, model.NewSnapshot(id, 0, 0, 0, 0, 0, ts, v.label)); err != nil {
				t.Fatalf("ReportPosition: %v", err)
			}
		}
	}

	fleet, err := client.Fleet(ctx, 2000)
	if err != nil {
		t.Fatalf("Fleet: %v", err)
	}
	want := map[model.MMSI]int64{1: 2000, 2: 1762, 3: 1256}
	if len(fleet) != len(want) {
		t.Fatalf("Fleet(2000) returned %d snapshots, want 3", len(fleet))
	}
	for _, s := range fleet {
		if want[s.MMSI()] != s.TimestampMs() {
			t.Fatalf("vessel %d at ts %d, want %d", s.MMSI(), s.TimestampMs(), want[s.MMSI()])
		}
	}

	current, err := client.CurrentFleet(ctx)
	if err != nil {
		t.Fatalf("CurrentFleet: %v", err)
	}
	if len(current) != 3 {
		t.Fatalf("CurrentFleet returned %d snapshots, want 3", len(current))
	}

	atZero, err := client.Fleet(ctx, 0)
	if err != nil {
		t.Fatalf("Fleet(0): %v", err)
	}
	if len(atZero) != 1 || atZero[0].MMSI() != 1 || atZero[0].TimestampMs() != 0 {
		t.Fatalf("Fleet(0) = %+v, want only vessel 1 at ts 0", atZero)
	}

	before, err := client.Fleet(ctx, -1)
	if err != nil {
		t.Fatalf("Fleet(-1): %v", err)
	}
	if len(before) != 0 {
		t.Fatalf("Fleet(-1) returned %d snapshots, want none", len(before))
	}

	bad := &structpb.Struct{Fields: map[string]*structpb.Value{"at_ms": structpb.NewStringValue("soon")}}
	err = conn.Invoke(ctx, MethodGetFleet, bad, new(structpb.ListValue))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("GetFleet with string at_ms: code %v, want InvalidArgument", status.Code(err))
	}
}

func TestContactServicePredictions(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, _ := startServer(t, newManagerAt(10_000))
	if err := client.ReportPosition(ctx, model.NewSnapshot(1, 10, 0, 0, 0, 0, 1000, "north")); err != nil {
		t.Fatalf("ReportPosition: %v", err)
	}
	if err := client.ReportPosition(ctx, model.NewSnapshot(2, 0, 0, 0, 0.4, 0.4, 1000, "moored")); err != nil {
		t.Fatalf("ReportPosition: %v", err)
	}

	predicted, err := client.PredictedFleet(ctx, 60_000)
	if err != nil {
		t.Fatalf("PredictedFleet: %v", err)
	}
	if len(predicted) != 2 || predicted["north"].LatRad() <= 0 || predicted["moored"].LatRad() != 0.4 {
		t.Fatalf("unexpected prediction: %+v", predicted)
	}

	positions, err := client.PredictedPositions(ctx, 1, []int64{2000, 1000})
	if err != nil {
		t.Fatalf("PredictedPositions: %v", err)
	}
	if len(positions) != 2 || positions[0].TimestampMs() != 3000 || positions[1].TimestampMs() != 2000 {
		t.Fatalf("unexpected positions: %+v", positions)
	}

	_, err = client.PredictedPositions(ctx, 99, []int64{1000})
	if !errors.Is(err, kb.ErrNotFound) || status.Code(err) != codes.NotFound {
		t.Fatalf("unknown vessel err = %v, want NotFound", err)
	}
}

func TestContactServiceLatestAndErrors(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, conn := startServer(t, newManagerAt(0))
	s := model.NewSnapshot(244660000, 12, 0.1, 0.2, 0.3, 0.4, 500, "PIONEER")
	if err := client.ReportPosition(ctx, s); err != nil {
		t.Fatalf("ReportPosition: %v", err)
	}

	got, err := client.Latest(ctx, 244660000)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if got != s {
		t.Fatalf("Latest = %+v, want %+v", got, s)
	}

	if _, err := client.Latest(ctx, 1); !errors.Is(err, kb.ErrNotFound) {
		t.Fatalf("Latest unknown err = %v", err)
	}

	if err := client.ReportPosition(ctx, model.NewSnapshot(1, 0, 0, 0, 0, 0, 10, "ONE")); err != nil {
		t.Fatalf("ReportPosition: %v", err)
	}
	err = conn.Invoke(ctx, MethodGetLatest, wrapInt(1<<32+1), new(structpb.Struct))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("Latest(1<<32+1) code = %v, want InvalidArgument", status.Code(err))
	}

	bad, _ := structpb.NewStruct(map[string]any{"label": "no id"})
	err = conn.Invoke(ctx, MethodReportPosition, bad, new(structpb.Struct))
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("malformed report code = %v, want InvalidArgument", status.Code(err))
	}
}

func TestContactServiceExportImport(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srcMgr := newManagerAt(0)
	srcMgr.ReportPosition(1, 1, 1, 1, 0.1, 0.1, 10, "A")
	srcMgr.ReportPosition(1, 1, 1, 1, 0.2, 0.1, 20, "A")
	src, _ := startServer(t, srcMgr)

	dstMgr := newManagerAt(0)
	dstMgr.ReportPosition(5, 0, 0, 0, 0, 0, 1, "E")
	dst, _ := startServer(t, dstMgr)

	exported, err := src.Export(ctx)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if exported.Len() != 2 {
		t.Fatalf("exported %d snapshots, want 2", exported.Len())
	}

	if err := dst.Import(ctx, exported, false); err != nil {
		t.Fatalf("Import merge: %v", err)
	}
	if vessels, snaps := dstMgr.Counts(); vessels != 2 || snaps != 3 {
		t.Fatalf("after merge %d/%d, want 2/3", vessels, snaps)
	}

	if err := dst.Import(ctx, exported, true); err != nil {
		t.Fatalf("Import replace: %v", err)
	}
	if vessels, snaps := dstMgr.Counts(); vessels != 1 || snaps != 2 {
		t.Fatalf("after replace %d/%d, want 1/2", vessels, snaps)
	}
}

func TestRequestIDPropagation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, conn := startServer(t, newManagerAt(0))

	ctx = logging.ContextWithRequestID(ctx, "req-123")
	var header metadata.MD
	out := new(structpb.ListValue)
	if err := conn.Invoke(ctx, MethodGetFleet, FleetRequestToStruct(nil), out, grpc.Header(&header)); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if got := header.Get(RequestIDMetadataKey); len(got) != 1 || got[0] != "req-123" {
		t.Fatalf("response request id = %v, want req-123", got)
	}
}

func wrapInt(v int64) *wrapperspb.Int64Value { return wrapperspb.Int64(v) }
