package sikka

import (
	"context"
	"time"

	"github.com/parlae/pms-gateway/internal/pms"
)

// CheckAvailability lists the day's appointments and returns the gaps inside
// office hours that fit the requested duration.
func (s *Service) CheckAvailability(ctx context.Context, query pms.AvailabilityQuery) ([]pms.TimeSlot, error) {
	if query.Date.IsZero() {
		return nil, pms.Invalid("date is required")
	}
	duration := s.duration(query.DurationMins)

	y, m, d := query.Date.Date()
	open := time.Date(y, m, d, s.openH, s.openM, 0, 0, s.loc)
	closing := time.Date(y, m, d, s.closeH, s.closeM, 0, 0, s.loc)

	booked, err := s.GetAppointments(ctx, pms.AppointmentQuery{
		StartDate:  open,
		EndDate:    open,
		ProviderID: query.ProviderID,
	})
	if err != nil {
		return nil, err
	}
	return freeSlots(open, closing, s.slotLength, duration, s.now(), query.ProviderID, booked), nil
}

// freeSlots walks the [open, closing) grid in step increments and keeps every
// slot of length duration that starts after now and overlaps no booking.
func freeSlots(open, closing time.Time, step, duration time.Duration, now time.Time, providerID string, booked []pms.Appointment) []pms.TimeSlot {
	var slots []pms.TimeSlot
	for start := open; !start.Add(duration).After(closing); start = start.Add(step) {
		end := start.Add(duration)
		if start.Before(now) {
			continue
		}
		free := true
		for _, appt := range booked {
			if appt.Status == pms.AppointmentCancelled {
				continue
			}
			if providerID != "" && appt.ProviderID != "" && appt.ProviderID != providerID {
				continue
			}
			if overlaps(start, end, appt.StartTime, appt.EndTime) {
				free = false
				break
			}
		}
		if free {
			slots = append(slots, pms.TimeSlot{
				StartTime:  start,
				EndTime:    end,
				ProviderID: providerID,
				Available:  true,
			})
		}
	}
	return slots
}

func overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aStart.IsZero() || aEnd.IsZero() || bStart.IsZero() || bEnd.IsZero() {
		return false
	}
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}
