package httpapi

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/signalsfoundry/ais-contact-manager/internal/contacts"
	"github.com/signalsfoundry/ais-contact-manager/internal/logging"
	"github.com/signalsfoundry/ais-contact-manager/internal/stream"
	"github.com/signalsfoundry/ais-contact-manager/model"
)

// FleetResponse is the body of GET /v1/fleet.
type FleetResponse struct {
	AtMs     int64          `json:"at_ms"`
	Contacts []model.Report `json:"contacts"`
}

// PredictedFleetResponse is the body of GET /v1/fleet/predicted.
type PredictedFleetResponse struct {
	OffsetMs int64                   `json:"offset_ms"`
	Contacts map[string]model.Report `json:"contacts"`
}

func (s *Server) health(c *fiber.Ctx) error {
	vessels, snapshots := s.mgr.Counts()
	return c.JSON(fiber.Map{
		"status":    "ok",
		"vessels":   vessels,
		"snapshots": snapshots,
	})
}

// fleet serves the fleet at ?at=<epoch ms>, or now when at is absent.
func (s *Server) fleet(c *fiber.Ctx) error {
	var (
		at    int64
		fleet []model.Snapshot
	)
	if raw := c.Query("at"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "at must be epoch milliseconds")
		}
		at = v
		fleet = s.mgr.FleetAt(at)
	} else {
		at = s.mgr.NowMs()
		fleet = s.mgr.CurrentFleet()
	}
	return c.JSON(FleetResponse{AtMs: at, Contacts: model.ReportsOf(fleet)})
}

func (s *Server) predictedFleet(c *fiber.Ctx) error {
	offset := s.defaultOffsetMs
	if raw := c.Query("offset_ms"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "offset_ms must be an integer")
		}
		offset = v
	}

	predicted := s.mgr.PredictedFleet(offset)
	out := make(map[string]model.Report, len(predicted))
	for label, snap := range predicted {
		out[label] = model.ReportOf(snap)
	}
	return c.JSON(PredictedFleetResponse{OffsetMs: offset, Contacts: out})
}

func (s *Server) vessels(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"vessels": s.mgr.Vessels()})
}

func (s *Server) latest(c *fiber.Ctx) error {
	mmsi, err := mmsiParam(c)
	if err != nil {
		return err
	}
	snap, err := s.mgr.Latest(mmsi)
	if err != nil {
		return lookupError(err)
	}
	return c.JSON(model.ReportOf(snap))
}

func (s *Server) history(c *fiber.Ctx) error {
	mmsi, err := mmsiParam(c)
	if err != nil {
		return err
	}
	snaps, err := s.mgr.History(mmsi)
	if err != nil {
		return lookupError(err)
	}
	return c.JSON(model.ReportsOf(snaps))
}

// predictedPositions serves ?offsets=1000,2000 for one vessel. Without
// offsets the default horizon is used.
func (s *Server) predictedPositions(c *fiber.Ctx) error {
	mmsi, err := mmsiParam(c)
	if err != nil {
		return err
	}
	offsets, err := parseOffsets(c.Query("offsets"), s.defaultOffsetMs)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	snaps, err := s.mgr.PredictedPositions(mmsi, offsets...)
	if err != nil {
		return lookupError(err)
	}
	return c.JSON(model.ReportsOf(snaps))
}

// reports accepts one report object or an array of them.
func (s *Server) reports(c *fiber.Ctx) error {
	reports, err := stream.DecodeReports(c.Body())
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	for _, r := range reports {
		s.mgr.Report(r.Snapshot())
	}
	s.logger(c).Debug(c.UserContext(), "reports accepted over http",
		logging.Int("count", len(reports)),
	)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"accepted": len(reports)})
}

func mmsiParam(c *fiber.Ctx) (model.MMSI, error) {
	v, err := strconv.ParseInt(c.Params("mmsi"), 10, 32)
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "mmsi must be a 32-bit integer")
	}
	return model.MMSI(v), nil
}

func parseOffsets(raw string, fallback int64) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return []int64{fallback}, nil
	}
	parts := strings.Split(raw, ",")
	out := make([]int64, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, errors.New("offsets must be comma separated integers")
		}
		out = append(out, v)
	}
	return out, nil
}

func lookupError(err error) error {
	if errors.Is(err, contacts.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return err
}

func (s *Server) logger(c *fiber.Ctx) logging.Logger {
	if l := logging.LoggerFromContext(c.UserContext()); l != nil {
		return l
	}
	return s.log
}
