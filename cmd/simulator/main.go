package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/ais-contact-manager/core"
	"github.com/signalsfoundry/ais-contact-manager/internal/api"
	"github.com/signalsfoundry/ais-contact-manager/internal/contacts"
	"github.com/signalsfoundry/ais-contact-manager/internal/logging"
	"github.com/signalsfoundry/ais-contact-manager/model"
	"github.com/signalsfoundry/ais-contact-manager/timectrl"
)

// Options controls one simulation run.
type Options struct {
	Vessels     int
	Duration    time.Duration
	Tick        time.Duration
	Horizon     time.Duration
	Accelerated bool
	Start       time.Time
}

// Publisher forwards each simulated report somewhere outside the process.
type Publisher func(ctx context.Context, s model.Snapshot) error

// fleetLine is one JSON line of simulator output.
type fleetLine struct {
	SimTime   string                  `json:"sim_time"`
	NowMs     int64                   `json:"now_ms"`
	Fleet     []model.Report          `json:"fleet"`
	Predicted map[string]model.Report `json:"predicted"`
}

func main() {
	vessels := flag.Int("vessels", 5, "number of synthetic vessels")
	duration := flag.Duration("duration", 60*time.Second, "total simulation duration")
	tick := flag.Duration("tick", time.Second, "tick interval")
	horizon := flag.Duration("horizon", time.Minute, "prediction horizon printed with each tick")
	accelerated := flag.Bool("accelerated", true, "run in accelerated mode (vs real-time)")
	grpcAddr := flag.String("grpc-addr", "", "also report positions to a contact server at this address")
	redisAddr := flag.String("redis-addr", "", "also publish reports to redis at this address")
	reportsChannel := flag.String("reports-channel", "ais:reports", "redis channel for published reports")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var publishers []Publisher
	if *grpcAddr != "" {
		conn, err := grpc.NewClient(*grpcAddr,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
			grpc.WithUnaryInterceptor(api.RequestIDUnaryClientInterceptor()),
		)
		if err != nil {
			log.Error(ctx, "failed to create gRPC client", logging.String("addr", *grpcAddr), logging.Err(err))
			os.Exit(1)
		}
		defer conn.Close()
		publishers = append(publishers, GRPCPublisher(api.NewClient(conn)))
	}
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr})
		defer rdb.Close()
		publishers = append(publishers, RedisPublisher(rdb, *reportsChannel))
	}

	opts := Options{
		Vessels:     *vessels,
		Duration:    *duration,
		Tick:        *tick,
		Horizon:     *horizon,
		Accelerated: *accelerated,
		Start:       time.Now().UTC(),
	}
	if err := Simulate(ctx, opts, os.Stdout, log, publishers...); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

// Simulate dead-reckons a synthetic fleet on a TimeController. Every tick
// each vessel reports its new position to a local manager (and to every
// publisher), then one fleetLine is written to out.
func Simulate(ctx context.Context, opts Options, out io.Writer, log logging.Logger, publishers ...Publisher) error {
	if opts.Vessels <= 0 {
		return errors.New("simulator: need at least one vessel")
	}
	if opts.Tick <= 0 {
		return errors.New("simulator: tick must be positive")
	}
	if log == nil {
		log = logging.Noop()
	}

	mode := timectrl.RealTime
	if opts.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(opts.Start, opts.Tick, mode)
	mgr := contacts.NewManager(nil, log, contacts.WithClock(tc))

	fleet := SeedFleet(opts.Vessels, opts.Start.UnixMilli())
	for _, s := range fleet {
		mgr.Report(s)
	}

	enc := json.NewEncoder(out)
	tickMs := opts.Tick.Milliseconds()
	horizonMs := opts.Horizon.Milliseconds()

	var (
		errMu    sync.Mutex
		firstErr error
		ticks    int
	)
	record := func(err error) {
		errMu.Lock()
		defer errMu.Unlock()
		if firstErr == nil {
			firstErr = err
		}
	}

	tc.AddListener(func(simTime time.Time) {
		ticks++
		for i, s := range fleet {
			next := core.Project(Steer(s, ticks), tickMs)
			fleet[i] = next
			mgr.Report(next)
			for _, publish := range publishers {
				if err := publish(ctx, next); err != nil {
					record(fmt.Errorf("publish vessel %d: %w", next.MMSI(), err))
				}
			}
		}

		predicted := mgr.PredictedFleet(horizonMs)
		line := fleetLine{
			SimTime:   simTime.UTC().Format(time.RFC3339),
			NowMs:     simTime.UnixMilli(),
			Fleet:     model.ReportsOf(mgr.CurrentFleet()),
			Predicted: make(map[string]model.Report, len(predicted)),
		}
		for label, p := range predicted {
			line.Predicted[label] = model.ReportOf(p)
		}
		if err := enc.Encode(line); err != nil {
			record(fmt.Errorf("write fleet line: %w", err))
		}
	})

	log.Info(ctx, "starting simulation",
		logging.Int("vessels", opts.Vessels),
		logging.Duration("duration", opts.Duration),
		logging.Duration("tick", opts.Tick),
	)
	<-tc.StartUntil(opts.Duration, ctx.Done())

	vessels, snapshots := mgr.Counts()
	log.Info(ctx, "simulation complete",
		logging.Int("ticks", ticks),
		logging.Int("vessels", vessels),
		logging.Int("snapshots", snapshots),
	)

	errMu.Lock()
	defer errMu.Unlock()
	return firstErr
}

// SeedFleet places n vessels off the Portuguese coast, each on its own
// course and speed. The layout is deterministic.
func SeedFleet(n int, startMs int64) []model.Snapshot {
	const (
		baseLatDeg = 38.5
		baseLonDeg = -9.6
	)
	fleet := make([]model.Snapshot, 0, n)
	for i := 0; i < n; i++ {
		course := math.Mod(float64(i)*2*math.Pi/float64(n)+0.3, 2*math.Pi)
		sog := 6 + float64(i%4)*3
		fleet = append(fleet, model.NewSnapshot(
			model.MMSI(263000000+i),
			sog,
			course,
			course,
			core.DegToRad(baseLatDeg+0.05*float64(i)),
			core.DegToRad(baseLonDeg-0.04*float64(i)),
			startMs,
			fmt.Sprintf("SIM-%02d", i+1),
		))
	}
	return fleet
}

// Steer turns odd-numbered vessels a little every ten ticks so tracks are
// not all straight lines.
func Steer(s model.Snapshot, tick int) model.Snapshot {
	if tick%10 != 0 || s.MMSI()%2 == 0 {
		return s
	}
	course := math.Mod(s.COG()+0.1, 2*math.Pi)
	return model.NewSnapshot(s.MMSI(), s.SOG(), course, course, s.LatRad(), s.LonRad(), s.TimestampMs(), s.Label())
}

// GRPCPublisher reports snapshots to a contact server.
func GRPCPublisher(client *api.Client) Publisher {
	return func(ctx context.Context, s model.Snapshot) error {
		return client.ReportPosition(ctx, s)
	}
}

// RedisPublisher publishes snapshots as JSON reports on channel.
func RedisPublisher(rdb *redis.Client, channel string) Publisher {
	return func(ctx context.Context, s model.Snapshot) error {
		payload, err := json.Marshal(model.ReportOf(s))
		if err != nil {
			return err
		}
		return rdb.Publish(ctx, channel, payload).Err()
	}
}
