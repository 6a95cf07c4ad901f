//go:build perf || perf_large

package perf

import (
	"context"
	"testing"
	"time"

	"github.com/signalsfoundry/ais-contact-manager/internal/api"
	"github.com/signalsfoundry/ais-contact-manager/internal/contacts"
	"github.com/signalsfoundry/ais-contact-manager/model"
	"github.com/signalsfoundry/ais-contact-manager/timectrl"
)

type perfConfig struct {
	Vessels           int
	ReportsPerVessel  int
	PredictionOffsets int
}

// seededManager fills a manager with cfg.Vessels histories, one report per
// second, and parks its clock after the last report.
func seededManager(cfg perfConfig) *contacts.Manager {
	end := int64(cfg.ReportsPerVessel) * 1000
	clock := timectrl.NewTimeController(time.UnixMilli(end), time.Second, timectrl.Accelerated)
	mgr := contacts.NewManager(nil, nil, contacts.WithClock(clock))
	for r := 0; r < cfg.ReportsPerVessel; r++ {
		for v := 0; v < cfg.Vessels; v++ {
			mgr.ReportPosition(model.MMSI(200000000+v), 12, 0.4, 0.4, 0.6, -0.15, int64(r)*1000, "V")
		}
	}
	return mgr
}

func benchmarkReports(b *testing.B, cfg perfConfig) {
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		mgr := contacts.NewManager(nil, nil)

		b.ResetTimer()
		for r := 0; r < cfg.ReportsPerVessel; r++ {
			for v := 0; v < cfg.Vessels; v++ {
				mgr.ReportPosition(model.MMSI(200000000+v), 12, 0.4, 0.4, 0.6, -0.15, int64(r)*1000, "V")
			}
		}
		b.StopTimer()
	}
}

func benchmarkFleetAt(b *testing.B, cfg perfConfig) {
	mgr := seededManager(cfg)
	mid := int64(cfg.ReportsPerVessel) * 500
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if got := mgr.FleetAt(mid); len(got) != cfg.Vessels {
			b.Fatalf("FleetAt returned %d vessels, want %d", len(got), cfg.Vessels)
		}
	}
}

func benchmarkPredictedPositions(b *testing.B, cfg perfConfig) {
	mgr := seededManager(cfg)
	offsets := make([]int64, cfg.PredictionOffsets)
	for i := range offsets {
		offsets[i] = int64(i+1) * 60_000
	}
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		for v := 0; v < cfg.Vessels; v++ {
			if _, err := mgr.PredictedPositions(model.MMSI(200000000+v), offsets...); err != nil {
				b.Fatalf("PredictedPositions: %v", err)
			}
		}
	}
}

func benchmarkExportStruct(b *testing.B, cfg perfConfig) {
	mgr := seededManager(cfg)
	svc := api.NewContactService(mgr, nil)
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := svc.ExportSnapshots(ctx, nil); err != nil {
			b.Fatalf("ExportSnapshots: %v", err)
		}
	}
}
