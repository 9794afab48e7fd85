package sikka

import (
	"math"
	"strings"
	"time"
	"unicode"

	"github.com/parlae/pms-gateway/internal/pms"
	"github.com/parlae/pms-gateway/pkg/logging"
)

// mapper translates Sikka records into canonical pms types.
type mapper struct {
	defaultDuration time.Duration
	loc             *time.Location
	logger          *logging.Logger
}

func newMapper(defaultDuration time.Duration, loc *time.Location, logger *logging.Logger) mapper {
	if defaultDuration <= 0 {
		defaultDuration = 30 * time.Minute
	}
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = logging.Default()
	}
	return mapper{defaultDuration: defaultDuration, loc: loc, logger: logger}
}

// mapItems maps every record, skipping those without an id.
func mapItems[T any](m mapper, kind string, items []record, fn func(record) T, id func(T) string) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		v := fn(item)
		if id(v) == "" {
			m.logger.Warn("skipping sikka record without id", "kind", kind)
			continue
		}
		out = append(out, v)
	}
	return out
}

func (m mapper) appointment(r record) pms.Appointment {
	appt := pms.Appointment{
		ID:              r.str("appointment_sr_no", "appointmentSrNo", "appointment_id", "appointmentId", "id"),
		PatientID:       r.str("patient_id", "patientId"),
		PatientName:     r.str("patient_name", "patientName"),
		ProviderID:      r.str("provider_id", "providerId"),
		ProviderName:    r.str("provider_name", "providerName"),
		OperatoryID:     r.str("operatory", "operatory_id", "operatoryId"),
		AppointmentType: r.str("type", "appointment_type", "appointmentType"),
		Notes:           r.str("note", "notes", "description"),
	}

	start, ok := r.timeVal(m.loc, "start_time", "startTime", "appointment_start", "appointmentStart")
	if !ok {
		start, ok = m.dateAndClock(r.str("date", "appointment_date", "appointmentDate"), r.str("time", "appointment_time", "appointmentTime"))
	}
	if ok {
		appt.StartTime = start
	}

	duration := time.Duration(0)
	if mins, ok := r.intVal("length", "duration", "duration_minutes", "durationMinutes"); ok && mins > 0 {
		duration = time.Duration(mins) * time.Minute
	}
	if end, ok := r.timeVal(m.loc, "end_time", "endTime", "appointment_end", "appointmentEnd"); ok && !appt.StartTime.IsZero() && end.After(appt.StartTime) {
		appt.EndTime = end
		if duration == 0 {
			duration = end.Sub(appt.StartTime)
		}
	}
	if duration == 0 {
		duration = m.defaultDuration
	}
	appt.Duration = int(duration / time.Minute)
	if appt.EndTime.IsZero() && !appt.StartTime.IsZero() {
		appt.EndTime = appt.StartTime.Add(duration)
	}

	appt.Status = normalizeAppointmentStatus(r.str("status", "appointment_status", "appointmentStatus"))
	if confirmed, ok := r.boolean("confirmed", "is_confirmed", "isConfirmed"); ok {
		appt.Confirmed = confirmed
	}
	if appt.Status == pms.AppointmentConfirmed {
		appt.Confirmed = true
	}
	return appt
}

func (m mapper) dateAndClock(date, clock string) (time.Time, bool) {
	day, ok := parseTime(date, m.loc)
	if !ok {
		return time.Time{}, false
	}
	if day.Hour() != 0 || day.Minute() != 0 || clock == "" {
		return day, true
	}
	hour, minute, ok := parseClock(clock)
	if !ok {
		return day, true
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, m.loc), true
}

func normalizeAppointmentStatus(raw string) string {
	key := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, raw)
	switch key {
	case "", "scheduled", "booked", "pending", "active":
		return pms.AppointmentScheduled
	case "confirmed":
		return pms.AppointmentConfirmed
	case "completed", "complete", "checkedout", "done":
		return pms.AppointmentCompleted
	case "cancelled", "canceled", "broken", "deleted":
		return pms.AppointmentCancelled
	case "noshow", "missed":
		return pms.AppointmentNoShow
	default:
		return strings.TrimSpace(raw)
	}
}

func (m mapper) patient(r record) pms.Patient {
	p := pms.Patient{
		ID:                r.str("patient_id", "patientId", "id"),
		FirstName:         r.str("firstname", "first_name", "firstName"),
		LastName:          r.str("lastname", "last_name", "lastName"),
		PreferredName:     r.str("preferred_name", "preferredName"),
		DateOfBirth:       r.date("birthdate", "birth_date", "date_of_birth", "dateOfBirth", "dob"),
		Gender:            r.str("gender", "sex"),
		Email:             r.str("email", "email_address", "emailAddress"),
		Phone:             r.str("cell", "cell_phone", "cellPhone", "mobile_phone", "mobilePhone", "phone", "home_phone", "homePhone"),
		Status:            r.str("status", "patient_status", "patientStatus"),
		PrimaryProviderID: r.str("provider_id", "providerId", "primary_provider_id", "primaryProviderId"),
		LastVisit:         r.date("last_visit", "lastVisit", "last_visit_date", "lastVisitDate"),
	}
	addr := pms.Address{
		Line1:      r.str("address_line1", "addressLine1", "address1", "address"),
		Line2:      r.str("address_line2", "addressLine2", "address2"),
		City:       r.str("city"),
		State:      r.str("state"),
		PostalCode: r.str("zipcode", "zip", "postal_code", "postalCode"),
	}
	if addr != (pms.Address{}) {
		p.Address = &addr
	}
	return p
}

func (m mapper) provider(r record) pms.Provider {
	p := pms.Provider{
		ID:        r.str("provider_id", "providerId", "id"),
		FirstName: r.str("firstname", "first_name", "firstName"),
		LastName:  r.str("lastname", "last_name", "lastName"),
		Name:      r.str("provider_name", "providerName", "name"),
		Specialty: r.str("specialty", "provider_type", "providerType"),
		Active:    true,
	}
	if p.Name == "" {
		p.Name = strings.TrimSpace(p.FirstName + " " + p.LastName)
	}
	if active, ok := r.boolean("is_active", "isActive", "status"); ok {
		p.Active = active
	}
	return p
}

func (m mapper) insurance(r record, patientID string) pms.Insurance {
	ins := pms.Insurance{
		ID:             r.str("patient_insurance_id", "patientInsuranceId", "insurance_id", "insuranceId", "id"),
		PatientID:      r.str("patient_id", "patientId"),
		CarrierName:    r.str("insurance_company_name", "insuranceCompanyName", "carrier_name", "carrierName", "carrier"),
		PlanName:       r.str("plan_name", "planName"),
		GroupNumber:    r.str("group_number", "groupNumber", "group_plan_number", "groupPlanNumber"),
		SubscriberID:   r.str("subscriber_id", "subscriberId", "member_id", "memberId"),
		SubscriberName: r.str("subscriber_name", "subscriberName"),
		Relationship:   strings.ToLower(r.str("relationship", "relation_to_subscriber", "relationToSubscriber")),
		EffectiveDate:  r.date("effective_date", "effectiveDate"),
		ExpirationDate: r.date("expiration_date", "expirationDate", "termination_date", "terminationDate"),
	}
	if ins.PatientID == "" {
		ins.PatientID = patientID
	}
	if primary, ok := r.boolean("is_primary", "isPrimary"); ok {
		ins.IsPrimary = primary
	} else {
		switch strings.ToLower(r.str("insurance_type", "insuranceType", "coverage_order", "coverageOrder")) {
		case "primary", "1":
			ins.IsPrimary = true
		}
	}
	return ins
}

func (m mapper) balance(r record, patientID string) pms.PatientBalance {
	b := pms.PatientBalance{
		PatientID:       r.str("patient_id", "patientId"),
		LastPaymentDate: r.date("last_payment_date", "lastPaymentDate"),
	}
	if b.PatientID == "" {
		b.PatientID = patientID
	}
	b.TotalBalance, _ = r.float("total_balance", "totalBalance", "balance", "current_balance", "currentBalance")
	b.InsurancePortion, _ = r.float("insurance_balance", "insuranceBalance", "insurance_portion", "insurancePortion", "estimated_insurance", "estimatedInsurance")
	if v, ok := r.float("patient_balance", "patientBalance", "patient_portion", "patientPortion"); ok {
		b.PatientPortion = v
	} else {
		b.PatientPortion = roundCents(b.TotalBalance - b.InsurancePortion)
	}
	b.LastPaymentAmount, _ = r.float("last_payment_amount", "lastPaymentAmount")
	return b
}

func (m mapper) payment(r record, patientID string) pms.Payment {
	p := pms.Payment{
		ID:          r.str("transaction_sr_no", "transactionSrNo", "transaction_id", "transactionId", "id"),
		PatientID:   r.str("patient_id", "patientId"),
		Method:      strings.ToLower(r.str("payment_type", "paymentType", "payment_method", "paymentMethod", "method")),
		Status:      strings.ToLower(r.str("status", "transaction_status", "transactionStatus")),
		Description: r.str("description", "note"),
	}
	if p.PatientID == "" {
		p.PatientID = patientID
	}
	if amount, ok := r.float("amount", "payment_amount", "paymentAmount"); ok {
		p.Amount = math.Abs(amount)
	}
	if p.Status == "" {
		p.Status = "posted"
	}
	if posted, ok := r.timeVal(m.loc, "transaction_date", "transactionDate", "payment_date", "paymentDate", "date"); ok {
		p.PostedAt = posted
	}
	return p
}

func (m mapper) note(r record, patientID string) pms.PatientNote {
	n := pms.PatientNote{
		ID:        r.str("medical_note_id", "medicalNoteId", "note_id", "noteId", "id"),
		PatientID: r.str("patient_id", "patientId"),
		Content:   r.str("note", "notes", "text", "content"),
		Category:  r.str("category", "note_type", "noteType"),
		CreatedBy: r.str("created_by", "createdBy", "user_id", "userId"),
	}
	if n.PatientID == "" {
		n.PatientID = patientID
	}
	if created, ok := r.timeVal(m.loc, "note_date", "noteDate", "created_at", "createdAt", "date"); ok {
		n.CreatedAt = created
	}
	return n
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

func digitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
