// Package ehr defines the internal domain model for practice-management data.
// Remote systems expose their own wire shapes; adapters in the integration
// packages translate those into these types and back.
package ehr

import "time"

// Gender is the patient gender recorded in the practice-management system.
type Gender string

const (
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
	GenderUnknown Gender = "unknown"
)

// PatientStatus describes the standing of a patient record.
type PatientStatus string

const (
	PatientStatusActive      PatientStatus = "patient"
	PatientStatusNonPatient  PatientStatus = "non_patient"
	PatientStatusInactive    PatientStatus = "inactive"
	PatientStatusArchived    PatientStatus = "archived"
	PatientStatusDeceased    PatientStatus = "deceased"
	PatientStatusProspective PatientStatus = "prospective"
)

// ContactMethod is a preferred way of reaching a patient. The remote system
// keeps three independent preferences: general contact, recall and
// appointment confirmation.
type ContactMethod string

const (
	ContactNone          ContactMethod = "none"
	ContactDoNotContact  ContactMethod = "do_not_contact"
	ContactHomePhone     ContactMethod = "home_phone"
	ContactWorkPhone     ContactMethod = "work_phone"
	ContactWirelessPhone ContactMethod = "wireless_phone"
	ContactEmail         ContactMethod = "email"
	ContactText          ContactMethod = "text_message"
	ContactMail          ContactMethod = "mail"
)

// AppointmentStatus is the lifecycle state of an appointment. Broken is
// terminal but reopenable: a broken appointment is never resurrected in
// place, a replacement is created instead.
type AppointmentStatus string

const (
	AppointmentScheduled   AppointmentStatus = "scheduled"
	AppointmentComplete    AppointmentStatus = "complete"
	AppointmentUnscheduled AppointmentStatus = "unscheduled"
	AppointmentASAP        AppointmentStatus = "asap"
	AppointmentBroken      AppointmentStatus = "broken"
	AppointmentPlanned     AppointmentStatus = "planned"
)

// Patient is a patient record as this system sees it. The remote numeric
// identifier is immutable once assigned by the remote system.
type Patient struct {
	ID        int64
	FirstName string
	LastName  string

	Email string
	// Phones in priority order: wireless first, then home, then work.
	WirelessPhone string
	HomePhone     string
	WorkPhone     string

	BirthDate time.Time
	Address   Address
	Gender    Gender
	Status    PatientStatus

	PrimaryProviderID   int64
	SecondaryProviderID int64
	ClinicID            int64

	PreferredContact      ContactMethod
	PreferredRecall       ContactMethod
	PreferredConfirmation ContactMethod
}

// BestPhone returns the highest-priority phone number on file.
func (p Patient) BestPhone() string {
	switch {
	case p.WirelessPhone != "":
		return p.WirelessPhone
	case p.HomePhone != "":
		return p.HomePhone
	default:
		return p.WorkPhone
	}
}

// Address is a patient mailing address.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
}

// Appointment is a booked (or broken) appointment. Arrived, Seated and
// Dismissed are workflow timestamps that are non-decreasing when present:
// arrived <= seated <= dismissed.
type Appointment struct {
	ID          int64
	PatientID   int64
	ProviderID  int64
	HygienistID int64
	OperatoryID int64

	Start    time.Time
	Duration time.Duration

	Status AppointmentStatus
	// Confirmed is the remote confirmation-status code; the set of codes is
	// practice-defined, so it is carried opaquely.
	Confirmed int64
	Notes     string
	ClinicID  int64

	Arrived   *time.Time
	Seated    *time.Time
	Dismissed *time.Time
}

// End returns the appointment end time derived from its duration.
func (a Appointment) End() time.Time {
	return a.Start.Add(a.Duration)
}

// Provider is a dentist or hygienist. Providers are read-only from this
// system's perspective: never created or mutated remotely.
type Provider struct {
	ID           int64
	FirstName    string
	LastName     string
	Abbreviation string
	NationalID   string
}

// DisplayName is the trimmed concatenation of first and last name, falling
// back to the abbreviation when both are empty.
func (p Provider) DisplayName() string {
	name := p.FirstName
	if p.LastName != "" {
		if name != "" {
			name += " "
		}
		name += p.LastName
	}
	if name == "" {
		return p.Abbreviation
	}
	return name
}

// Operatory is a treatment room/chair resource. Read-only.
type Operatory struct {
	ID                 int64
	Name               string
	Abbreviation       string
	DefaultProviderID  int64
	DefaultHygienistID int64
	ClinicID           int64
	Active             bool
}

// Slot is a bookable opening returned by the remote slot search.
type Slot struct {
	ProviderID  int64
	OperatoryID int64
	Start       time.Time
	End         time.Time
}

// Duration returns the slot length.
func (s Slot) Duration() time.Duration {
	return s.End.Sub(s.Start)
}

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two windows share any time.
func (w TimeWindow) Overlaps(other TimeWindow) bool {
	return w.Start.Before(other.End) && other.Start.Before(w.End)
}

// Availability is the outcome of an operatory availability check.
type Availability struct {
	Available bool
	Reason    string
}
