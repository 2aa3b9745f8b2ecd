package points

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bacnet "github.com/normalframework/bacnet-cov-demo"
	"github.com/normalframework/bacnet-cov-demo/internal/pointapi"
)

var (
	// ErrUnsupportedType is returned when a local object is neither analog nor binary.
	ErrUnsupportedType = errors.New("points: unsupported object type")

	// ErrNoPresentValue is returned when a local object has no present-value.
	ErrNoPresentValue = errors.New("points: object has no present-value")
)

// Manager creates the catalog points on the server and keeps their
// present-values moving.
type Manager struct {
	api     pointapi.ConfigurationClient
	catalog Catalog
	log     *slog.Logger
}

func NewManager(api pointapi.ConfigurationClient, catalog Catalog, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{api: api, catalog: catalog, log: log}
}

// ClearLocalPoints deletes every local object on the server.
func (m *Manager) ClearLocalPoints(ctx context.Context) error {
	reply, err := m.api.GetLocalObjects(ctx, &pointapi.GetLocalObjectsRequest{})
	if err != nil {
		return fmt.Errorf("getting local objects: %w", err)
	}
	for _, obj := range reply.Objects {
		m.log.Info("deleting local object", "object", obj.ObjectID.String())
		if _, err := m.api.DeleteLocalObject(ctx, &pointapi.DeleteLocalObjectRequest{ObjectID: obj.ObjectID}); err != nil {
			return fmt.Errorf("deleting %s: %w", obj.ObjectID, err)
		}
	}
	return nil
}

// CreateLocalPoints creates every catalog point. A point that fails is
// logged and skipped. It returns how many points were created.
func (m *Manager) CreateLocalPoints(ctx context.Context) (int, error) {
	created := 0
	for _, p := range m.catalog.Points {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		m.log.Info("creating local point", "type", p.Type, "instance", p.Instance)
		req := m.catalog.Request(p)
		if _, err := m.api.CreateLocalObject(ctx, req); err != nil {
			m.log.Error("failed to create local object", "object", req.ObjectID.String(), "error", err)
			continue
		}
		created++
	}
	return created, nil
}

// NextBinary toggles a binary present-value.
func NextBinary(v uint32) uint32 {
	if v == 0 {
		return 1
	}
	return 0
}

// NextAnalog advances v by s.Step, wrapping past s.Max back above s.Min.
func NextAnalog(v float32, s AnalogSettings) float32 {
	next := v + s.Step
	for next > s.Max {
		next = s.Min + (next - s.Max)
	}
	return next
}

// UpdateValues advances the present-value of every local object. Objects
// that cannot be updated are reported in the joined error; the others are
// still updated.
func (m *Manager) UpdateValues(ctx context.Context) error {
	reply, err := m.api.GetLocalObjects(ctx, &pointapi.GetLocalObjectsRequest{})
	if err != nil {
		return fmt.Errorf("getting local objects: %w", err)
	}

	var errs []error
	for _, obj := range reply.Objects {
		if err := m.updateObject(ctx, obj); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) updateObject(ctx context.Context, obj pointapi.LocalObject) error {
	old, ok := obj.Property(bacnet.PROP_PRESENT_VALUE)
	if !ok {
		return fmt.Errorf("%s: %w", obj.ObjectID, ErrNoPresentValue)
	}

	var next pointapi.ApplicationDataValue
	switch t := obj.ObjectID.ObjectType; {
	case t.IsBinary():
		next = pointapi.Enumerated(NextBinary(old.Enumerated))
	case t.IsAnalog():
		next = pointapi.Real(NextAnalog(old.Real, m.catalog.Analog))
	default:
		return fmt.Errorf("%s: %w", obj.ObjectID, ErrUnsupportedType)
	}

	m.log.Info("updating local object", "object", obj.ObjectID.String(), "from", old.String(), "to", next.String())
	req := pointapi.NewUpdateLocalObjectRequest(obj.ObjectID, []pointapi.PropertyValue{
		{Property: bacnet.PROP_PRESENT_VALUE, Value: next},
	})
	if _, err := m.api.UpdateLocalObject(ctx, req); err != nil {
		return fmt.Errorf("updating %s: %w", obj.ObjectID, err)
	}
	return nil
}

// Run clears the server, creates the catalog points and then updates their
// values every interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if err := m.ClearLocalPoints(ctx); err != nil {
		return err
	}
	created, err := m.CreateLocalPoints(ctx)
	if err != nil {
		return err
	}
	m.log.Info("local points created", "count", created, "of", len(m.catalog.Points))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := m.UpdateValues(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.log.Error("updating values", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
