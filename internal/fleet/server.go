// Package fleet ingests the docking feed: spaceships report the airport they
// are parked at, which is the authoritative position for the vehicle
// directory.
package fleet

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/example/spaceryder/internal/trip/domain"
)

var dockingReports = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "fleet_docking_reports_total",
	Help: "Docking reports received, by result.",
}, []string{"result"})

// Server implements DockingServer.
type Server struct {
	vehicles domain.VehicleDirectory
	airports domain.AirportDirectory
	logger   *zap.Logger
}

// NewServer constructs a server.
func NewServer(vehicles domain.VehicleDirectory, airports domain.AirportDirectory, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{vehicles: vehicles, airports: airports, logger: logger}
}

// ReportDocking applies every report on the stream. Malformed reports and
// unknown locations are counted as rejected and do not end the stream.
func (s *Server) ReportDocking(stream Docking_ReportDockingServer) error {
	var ack DockingAck
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			return stream.SendAndClose(&ack)
		}
		if err != nil {
			return err
		}
		if err := s.Apply(stream.Context(), msg); err != nil {
			if !domain.IsPermanent(err) {
				return err
			}
			ack.Rejected++
			dockingReports.WithLabelValues("rejected").Inc()
			s.logger.Debug("docking report rejected", zap.String("spaceship_id", msg.SpaceshipID), zap.Error(err))
			continue
		}
		ack.Accepted++
		dockingReports.WithLabelValues("accepted").Inc()
	}
}

// Apply moves the spaceship to the reported location unconditionally.
func (s *Server) Apply(ctx context.Context, msg *DockingReport) error {
	id, err := uuid.Parse(msg.SpaceshipID)
	if err != nil {
		return fmt.Errorf("%w: spaceship_id must be a UUID", domain.ErrInvalidInput)
	}
	code := strings.TrimSpace(msg.LocationCode)
	_, ok, err := s.airports.ResolveAirport(ctx, code)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownLocation, code)
	}
	if err := s.vehicles.UpdateLocation(ctx, id, code); err != nil {
		return err
	}
	s.logger.Info("spaceship docked", zap.String("spaceship_id", id.String()), zap.String("location", code))
	return nil
}
