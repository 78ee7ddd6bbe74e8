package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/apptcore/libs/events"
	"github.com/md-rashed-zaman/apptcore/services/booking-service/internal/model"
)

type recordedEvent struct {
	Type    string
	Payload events.AppointmentPayload
}

// memStore serializes every transaction behind one mutex, which is what the schedule and
// tenant row locks give the postgres store for a single schedule.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	tenants       map[string]model.Tenant
	schedules     map[string]model.ScheduleConfig
	services      map[string]model.ServiceOffering
	clients       map[string]model.Client
	professionals map[string]model.Professional
	appointments  map[string]model.Appointment
	idem          map[string]string
	events        []recordedEvent
}

func newMemStore() *memStore {
	return &memStore{
		tenants:       map[string]model.Tenant{},
		schedules:     map[string]model.ScheduleConfig{},
		services:      map[string]model.ServiceOffering{},
		clients:       map[string]model.Client{},
		professionals: map[string]model.Professional{},
		appointments:  map[string]model.Appointment{},
		idem:          map[string]string{},
	}
}

func (m *memStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.mu.Lock()
	apptSnap := make(map[string]model.Appointment, len(m.appointments))
	for k, v := range m.appointments {
		apptSnap[k] = v
	}
	idemSnap := make(map[string]string, len(m.idem))
	for k, v := range m.idem {
		idemSnap[k] = v
	}
	eventCount := len(m.events)
	m.mu.Unlock()

	if err := fn(m); err != nil {
		m.mu.Lock()
		m.appointments, m.idem, m.events = apptSnap, idemSnap, m.events[:eventCount]
		m.mu.Unlock()
		return err
	}
	return nil
}

func (m *memStore) GetTenant(_ context.Context, tenantID string) (model.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return model.Tenant{}, ErrNotFound
	}
	return t, nil
}

func (m *memStore) GetSchedule(_ context.Context, tenantID, id string) (model.ScheduleConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok || s.TenantID != tenantID {
		return model.ScheduleConfig{}, ErrNotFound
	}
	return s, nil
}

func (m *memStore) GetService(_ context.Context, tenantID, id string) (model.ServiceOffering, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.services[id]
	if !ok || s.TenantID != tenantID {
		return model.ServiceOffering{}, ErrNotFound
	}
	return s, nil
}

func (m *memStore) GetClient(_ context.Context, tenantID, id string) (model.Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clients[id]
	if !ok || c.TenantID != tenantID {
		return model.Client{}, ErrNotFound
	}
	return c, nil
}

func (m *memStore) GetProfessional(_ context.Context, tenantID, id string) (model.Professional, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.professionals[id]
	if !ok || p.TenantID != tenantID {
		return model.Professional{}, ErrNotFound
	}
	return p, nil
}

func (m *memStore) GetAppointment(_ context.Context, tenantID, id string) (model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok || a.TenantID != tenantID {
		return model.Appointment{}, ErrNotFound
	}
	return a, nil
}

func (m *memStore) ListAppointments(_ context.Context, f ListFilter) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.appointments {
		if a.TenantID != f.TenantID || (f.Status != "" && a.Status != f.Status) || (f.ScheduleID != "" && a.ScheduleID != f.ScheduleID) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *memStore) ListOccupying(_ context.Context, tenantID, scheduleID string, from, to time.Time) ([]model.Appointment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Appointment
	for _, a := range m.appointments {
		if a.TenantID == tenantID && a.ScheduleID == scheduleID && a.Occupies() && a.Start.Before(to) && a.End().After(from) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (m *memStore) LockSchedule(ctx context.Context, tenantID, id string) (model.ScheduleConfig, error) {
	return m.GetSchedule(ctx, tenantID, id)
}

func (m *memStore) LockTenant(ctx context.Context, tenantID string) (model.Tenant, error) {
	return m.GetTenant(ctx, tenantID)
}

func (m *memStore) GetAppointmentForUpdate(ctx context.Context, tenantID, id string) (model.Appointment, error) {
	return m.GetAppointment(ctx, tenantID, id)
}

func (m *memStore) CountMonthly(_ context.Context, tenantID string, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, a := range m.appointments {
		if a.TenantID == tenantID && a.Occupies() && !a.CreatedAt.Before(from) && a.CreatedAt.Before(to) {
			n++
		}
	}
	return n, nil
}

func (m *memStore) InsertAppointment(_ context.Context, a model.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[a.ID] = a
	return nil
}

func (m *memStore) UpdateAppointment(_ context.Context, a model.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[a.ID]; !ok {
		return ErrNotFound
	}
	m.appointments[a.ID] = a
	return nil
}

func (m *memStore) DeleteAppointment(_ context.Context, tenantID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.appointments, id)
	return nil
}

func (m *memStore) AppendEvent(_ context.Context, eventType string, p events.AppointmentPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, recordedEvent{Type: eventType, Payload: p})
	return nil
}

func (m *memStore) LockIdempotencyKey(_ context.Context, tenantID, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.idem[tenantID+"/"+key], nil
}

func (m *memStore) FinalizeIdempotencyKey(_ context.Context, tenantID, key, appointmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idem[tenantID+"/"+key] = appointmentID
	return nil
}

func (m *memStore) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}
