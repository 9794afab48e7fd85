package pms

import (
	"context"
	"time"
)

// Service is the contract every practice-management integration implements.
// Tool handlers and admin pages only talk to this interface.
type Service interface {
	// TestConnection verifies credentials and that the practice answers requests.
	TestConnection(ctx context.Context) (*ConnectionStatus, error)

	// GetAppointments lists appointments matching the query.
	GetAppointments(ctx context.Context, query AppointmentQuery) ([]Appointment, error)

	// GetAppointment retrieves an appointment by ID.
	GetAppointment(ctx context.Context, appointmentID string) (*Appointment, error)

	// CheckAvailability returns open slots for a single day.
	CheckAvailability(ctx context.Context, query AvailabilityQuery) ([]TimeSlot, error)

	// BookAppointment creates an appointment and waits for the PMS to confirm it.
	BookAppointment(ctx context.Context, req AppointmentRequest) (*Appointment, error)

	// RescheduleAppointment moves an existing appointment.
	RescheduleAppointment(ctx context.Context, appointmentID string, req RescheduleRequest) (*Appointment, error)

	// CancelAppointment cancels an existing appointment.
	CancelAppointment(ctx context.Context, appointmentID string, reason string) error

	SearchPatients(ctx context.Context, query PatientSearchQuery) ([]Patient, error)
	GetPatient(ctx context.Context, patientID string) (*Patient, error)
	CreatePatient(ctx context.Context, input PatientInput) (*Patient, error)
	UpdatePatient(ctx context.Context, patientID string, input PatientInput) (*Patient, error)

	GetPatientInsurance(ctx context.Context, patientID string) ([]Insurance, error)
	AddPatientInsurance(ctx context.Context, patientID string, input InsuranceInput) (*Insurance, error)
	GetPatientBalance(ctx context.Context, patientID string) (*PatientBalance, error)

	GetProviders(ctx context.Context) ([]Provider, error)
	GetProvider(ctx context.Context, providerID string) (*Provider, error)

	ProcessPayment(ctx context.Context, req PaymentRequest) (*Payment, error)
	GetPaymentHistory(ctx context.Context, patientID string) ([]Payment, error)

	GetPatientNotes(ctx context.Context, patientID string) ([]PatientNote, error)
	AddPatientNote(ctx context.Context, patientID string, input NoteInput) (*PatientNote, error)
}

// ConnectionStatus is returned by TestConnection.
type ConnectionStatus struct {
	Connected     bool      `json:"connected"`
	OfficeID      string    `json:"officeId,omitempty"`
	ProviderCount int       `json:"providerCount"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// AppointmentQuery filters GetAppointments.
type AppointmentQuery struct {
	StartDate  time.Time // Inclusive first calendar day; only the Y/M/D as written is used
	EndDate    time.Time // Inclusive last calendar day; only the Y/M/D as written is used
	ProviderID string    // Optional
	PatientID  string    // Optional
	Status     string    // Optional
	Offset     int
	Limit      int
}

// AvailabilityQuery asks for open slots on one day.
type AvailabilityQuery struct {
	Date         time.Time // Calendar day to search; its Y/M/D is taken as a day in the office timezone
	ProviderID   string    // Optional: restrict to one provider
	DurationMins int       // Slot length; zero means the configured default
}

// TimeSlot is an open interval on the schedule.
type TimeSlot struct {
	StartTime  time.Time `json:"startTime"`
	EndTime    time.Time `json:"endTime"`
	ProviderID string    `json:"providerId,omitempty"`
	Available  bool      `json:"available"`
}

// AppointmentRequest books a new appointment.
type AppointmentRequest struct {
	PatientID       string    `json:"patientId" validate:"required"`
	ProviderID      string    `json:"providerId,omitempty"`
	OperatoryID     string    `json:"operatoryId,omitempty"`
	StartTime       time.Time `json:"startTime" validate:"required"`
	Duration        int       `json:"duration,omitempty" validate:"omitempty,min=5,max=480"`
	AppointmentType string    `json:"appointmentType,omitempty"`
	Notes           string    `json:"notes,omitempty" validate:"max=2000"`
}

// RescheduleRequest moves an appointment. Zero fields keep their current value.
type RescheduleRequest struct {
	StartTime  time.Time `json:"startTime" validate:"required"`
	Duration   int       `json:"duration,omitempty" validate:"omitempty,min=5,max=480"`
	ProviderID string    `json:"providerId,omitempty"`
}

// Appointment is the canonical appointment shape.
type Appointment struct {
	ID              string    `json:"id"`
	PatientID       string    `json:"patientId,omitempty"`
	PatientName     string    `json:"patientName,omitempty"`
	ProviderID      string    `json:"providerId,omitempty"`
	ProviderName    string    `json:"providerName,omitempty"`
	OperatoryID     string    `json:"operatoryId,omitempty"`
	StartTime       time.Time `json:"startTime"`
	EndTime         time.Time `json:"endTime"`
	Duration        int       `json:"duration"` // minutes
	Status          string    `json:"status,omitempty"`
	AppointmentType string    `json:"appointmentType,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	Confirmed       bool      `json:"confirmed"`
}

// Appointment statuses surfaced to callers.
const (
	AppointmentScheduled = "Scheduled"
	AppointmentConfirmed = "Confirmed"
	AppointmentCompleted = "Completed"
	AppointmentCancelled = "Cancelled"
	AppointmentNoShow    = "NoShow"
)

// PatientSearchQuery searches patients. At least one field must be set.
type PatientSearchQuery struct {
	FirstName   string
	LastName    string
	Phone       string
	Email       string
	DateOfBirth string // YYYY-MM-DD
	Limit       int
}

// Empty reports whether no search criteria were provided.
func (q PatientSearchQuery) Empty() bool {
	return q.FirstName == "" && q.LastName == "" && q.Phone == "" && q.Email == "" && q.DateOfBirth == ""
}

// Patient is the canonical patient shape.
type Patient struct {
	ID                string   `json:"id"`
	FirstName         string   `json:"firstName"`
	LastName          string   `json:"lastName"`
	PreferredName     string   `json:"preferredName,omitempty"`
	DateOfBirth       string   `json:"dateOfBirth,omitempty"` // YYYY-MM-DD
	Gender            string   `json:"gender,omitempty"`
	Email             string   `json:"email,omitempty"`
	Phone             string   `json:"phone,omitempty"`
	Address           *Address `json:"address,omitempty"`
	Status            string   `json:"status,omitempty"`
	PrimaryProviderID string   `json:"primaryProviderId,omitempty"`
	LastVisit         string   `json:"lastVisit,omitempty"`
}

// Address is a postal address.
type Address struct {
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

// PatientInput creates or updates a patient. Empty fields are left untouched on update.
type PatientInput struct {
	FirstName   string   `json:"firstName,omitempty" validate:"max=100"`
	LastName    string   `json:"lastName,omitempty" validate:"max=100"`
	DateOfBirth string   `json:"dateOfBirth,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Gender      string   `json:"gender,omitempty"`
	Email       string   `json:"email,omitempty" validate:"omitempty,email"`
	Phone       string   `json:"phone,omitempty" validate:"omitempty,min=7,max=20"`
	Address     *Address `json:"address,omitempty"`
}

// Provider is a clinician at the practice.
type Provider struct {
	ID        string `json:"id"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Name      string `json:"name"`
	Specialty string `json:"specialty,omitempty"`
	Active    bool   `json:"active"`
}

// Insurance is a coverage record attached to a patient.
type Insurance struct {
	ID             string `json:"id"`
	PatientID      string `json:"patientId"`
	CarrierName    string `json:"carrierName"`
	PlanName       string `json:"planName,omitempty"`
	GroupNumber    string `json:"groupNumber,omitempty"`
	SubscriberID   string `json:"subscriberId,omitempty"`
	SubscriberName string `json:"subscriberName,omitempty"`
	Relationship   string `json:"relationship,omitempty"`
	IsPrimary      bool   `json:"isPrimary"`
	EffectiveDate  string `json:"effectiveDate,omitempty"`
	ExpirationDate string `json:"expirationDate,omitempty"`
}

// InsuranceInput attaches coverage to a patient.
type InsuranceInput struct {
	CarrierName    string `json:"carrierName" validate:"required,max=200"`
	PlanName       string `json:"planName,omitempty"`
	GroupNumber    string `json:"groupNumber,omitempty"`
	SubscriberID   string `json:"subscriberId" validate:"required"`
	SubscriberName string `json:"subscriberName,omitempty"`
	Relationship   string `json:"relationship,omitempty" validate:"omitempty,oneof=self spouse child other"`
	IsPrimary      bool   `json:"isPrimary"`
}

// PatientBalance summarizes what a patient owes.
type PatientBalance struct {
	PatientID         string  `json:"patientId"`
	TotalBalance      float64 `json:"totalBalance"`
	InsurancePortion  float64 `json:"insurancePortion"`
	PatientPortion    float64 `json:"patientPortion"`
	LastPaymentDate   string  `json:"lastPaymentDate,omitempty"`
	LastPaymentAmount float64 `json:"lastPaymentAmount,omitempty"`
}

// PaymentRequest records a patient payment.
type PaymentRequest struct {
	PatientID   string  `json:"patientId" validate:"required"`
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Method      string  `json:"method" validate:"required,oneof=card cash check ach other"`
	ProviderID  string  `json:"providerId,omitempty"`
	Description string  `json:"description,omitempty" validate:"max=500"`
}

// Payment is a posted transaction.
type Payment struct {
	ID          string    `json:"id"`
	PatientID   string    `json:"patientId"`
	Amount      float64   `json:"amount"`
	Method      string    `json:"method,omitempty"`
	Status      string    `json:"status,omitempty"`
	Description string    `json:"description,omitempty"`
	PostedAt    time.Time `json:"postedAt"`
}

// PatientNote is a clinical or administrative note.
type PatientNote struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patientId"`
	Content   string    `json:"content"`
	Category  string    `json:"category,omitempty"`
	CreatedBy string    `json:"createdBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NoteInput adds a note to a patient.
type NoteInput struct {
	Content  string `json:"content" validate:"required,max=4000"`
	Category string `json:"category,omitempty"`
}
