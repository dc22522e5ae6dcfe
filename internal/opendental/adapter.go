package opendental

import (
	"fmt"
	"strings"
	"time"

	"github.com/kestrelhealth/dentalbridge/internal/ehr"
)

// Adapter translates between the remote wire shapes and the internal domain
// model. It is pure: no I/O, no retained state beyond the practice timezone
// used to interpret wire timestamps.
type Adapter struct {
	loc *time.Location
}

// NewAdapter creates an adapter interpreting wire timestamps in the
// practice's local timezone.
func NewAdapter(loc *time.Location) *Adapter {
	if loc == nil {
		loc = time.UTC
	}
	return &Adapter{loc: loc}
}

// DecodePattern converts a duration pattern into a duration: one quantum per
// pattern character.
func DecodePattern(pattern string) (time.Duration, error) {
	for i, c := range pattern {
		if c != patternChar && c != '/' {
			return 0, &ValidationError{Field: "Pattern", Reason: fmt.Sprintf("unexpected character %q at position %d", c, i)}
		}
	}
	return time.Duration(len(pattern)) * PatternQuantum, nil
}

// EncodePattern converts a duration into a pattern string, rounding up to
// the nearest quantum.
func EncodePattern(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	blocks := int((d + PatternQuantum - 1) / PatternQuantum)
	return strings.Repeat(string(patternChar), blocks)
}

// PatientToDomain maps a wire patient into the domain model. Malformed
// fields surface a ValidationError naming the field.
func (a *Adapter) PatientToDomain(p APIPatient) (ehr.Patient, error) {
	birth, err := a.parseDate(p.Birthdate)
	if err != nil {
		return ehr.Patient{}, &ValidationError{Field: "Birthdate", Reason: err.Error()}
	}
	return ehr.Patient{
		ID:            p.PatNum,
		FirstName:     p.FName,
		LastName:      p.LName,
		Email:         p.Email,
		WirelessPhone: p.WirelessPhone,
		HomePhone:     p.HmPhone,
		WorkPhone:     p.WkPhone,
		BirthDate:     birth,
		Address: ehr.Address{
			Line1:      p.Address,
			Line2:      p.Address2,
			City:       p.City,
			State:      p.State,
			PostalCode: p.Zip,
		},
		Gender:                genderToDomain(p.Gender),
		Status:                patStatusToDomain(p.PatStatus),
		PrimaryProviderID:     p.PriProv,
		SecondaryProviderID:   p.SecProv,
		ClinicID:              p.ClinicNum,
		PreferredContact:      contactToDomain(p.PreferContactMethod),
		PreferredRecall:       contactToDomain(p.PreferRecallMethod),
		PreferredConfirmation: contactToDomain(p.PreferConfirmMethod),
	}, nil
}

// PatientToRemote maps a domain patient onto the wire shape. Total: never
// fails.
func (a *Adapter) PatientToRemote(p ehr.Patient) APIPatient {
	return APIPatient{
		PatNum:              p.ID,
		LName:               p.LastName,
		FName:               p.FirstName,
		Email:               p.Email,
		WirelessPhone:       p.WirelessPhone,
		HmPhone:             p.HomePhone,
		WkPhone:             p.WorkPhone,
		Birthdate:           a.formatDate(p.BirthDate),
		Address:             p.Address.Line1,
		Address2:            p.Address.Line2,
		City:                p.Address.City,
		State:               p.Address.State,
		Zip:                 p.Address.PostalCode,
		Gender:              genderToRemote(p.Gender),
		PatStatus:           patStatusToRemote(p.Status),
		PriProv:             p.PrimaryProviderID,
		SecProv:             p.SecondaryProviderID,
		ClinicNum:           p.ClinicID,
		PreferContactMethod: contactToRemote(p.PreferredContact),
		PreferRecallMethod:  contactToRemote(p.PreferredRecall),
		PreferConfirmMethod: contactToRemote(p.PreferredConfirmation),
	}
}

// AppointmentToDomain maps a wire appointment into the domain model,
// decoding the duration pattern and validating that workflow timestamps are
// non-decreasing.
func (a *Adapter) AppointmentToDomain(apt APIAppointment) (ehr.Appointment, error) {
	start, err := a.parseDateTime(apt.AptDateTime)
	if err != nil {
		return ehr.Appointment{}, &ValidationError{Field: "AptDateTime", Reason: err.Error()}
	}
	duration, err := DecodePattern(apt.Pattern)
	if err != nil {
		return ehr.Appointment{}, err
	}

	arrived, err := a.parseOptionalDateTime(apt.DateTimeArrived)
	if err != nil {
		return ehr.Appointment{}, &ValidationError{Field: "DateTimeArrived", Reason: err.Error()}
	}
	seated, err := a.parseOptionalDateTime(apt.DateTimeSeated)
	if err != nil {
		return ehr.Appointment{}, &ValidationError{Field: "DateTimeSeated", Reason: err.Error()}
	}
	dismissed, err := a.parseOptionalDateTime(apt.DateTimeDismissed)
	if err != nil {
		return ehr.Appointment{}, &ValidationError{Field: "DateTimeDismissed", Reason: err.Error()}
	}
	if arrived != nil && seated != nil && seated.Before(*arrived) {
		return ehr.Appointment{}, &ValidationError{Field: "DateTimeSeated", Reason: "seated before arrived"}
	}
	if seated != nil && dismissed != nil && dismissed.Before(*seated) {
		return ehr.Appointment{}, &ValidationError{Field: "DateTimeDismissed", Reason: "dismissed before seated"}
	}
	if arrived != nil && dismissed != nil && dismissed.Before(*arrived) {
		return ehr.Appointment{}, &ValidationError{Field: "DateTimeDismissed", Reason: "dismissed before arrived"}
	}

	return ehr.Appointment{
		ID:          apt.AptNum,
		PatientID:   apt.PatNum,
		ProviderID:  apt.ProvNum,
		HygienistID: apt.ProvHyg,
		OperatoryID: apt.Op,
		Start:       start,
		Duration:    duration,
		Status:      aptStatusToDomain(apt.AptStatus),
		Confirmed:   apt.Confirmed,
		Notes:       apt.Note,
		ClinicID:    apt.ClinicNum,
		Arrived:     arrived,
		Seated:      seated,
		Dismissed:   dismissed,
	}, nil
}

// AppointmentToRemote maps a domain appointment onto the wire shape,
// encoding the duration pattern (rounding up to the quantum). Total.
func (a *Adapter) AppointmentToRemote(apt ehr.Appointment) APIAppointment {
	return APIAppointment{
		AptNum:            apt.ID,
		PatNum:            apt.PatientID,
		ProvNum:           apt.ProviderID,
		ProvHyg:           apt.HygienistID,
		Op:                apt.OperatoryID,
		AptDateTime:       a.formatDateTime(apt.Start),
		Pattern:           EncodePattern(apt.Duration),
		AptStatus:         aptStatusToRemote(apt.Status),
		Confirmed:         apt.Confirmed,
		Note:              apt.Notes,
		ClinicNum:         apt.ClinicID,
		DateTimeArrived:   a.formatOptionalDateTime(apt.Arrived),
		DateTimeSeated:    a.formatOptionalDateTime(apt.Seated),
		DateTimeDismissed: a.formatOptionalDateTime(apt.Dismissed),
	}
}

// ProviderToDomain maps a wire provider into the domain model.
func (a *Adapter) ProviderToDomain(p APIProvider) ehr.Provider {
	return ehr.Provider{
		ID:           p.ProvNum,
		FirstName:    p.FName,
		LastName:     p.LName,
		Abbreviation: p.Abbr,
		NationalID:   p.NationalProvID,
	}
}

// ProviderToRemote maps a domain provider onto the wire shape.
func (a *Adapter) ProviderToRemote(p ehr.Provider) APIProvider {
	return APIProvider{
		ProvNum:        p.ID,
		LName:          p.LastName,
		FName:          p.FirstName,
		Abbr:           p.Abbreviation,
		NationalProvID: p.NationalID,
	}
}

// OperatoryToDomain maps a wire operatory into the domain model. The wire
// carries a hidden flag; the domain carries the inverse.
func (a *Adapter) OperatoryToDomain(op APIOperatory) ehr.Operatory {
	return ehr.Operatory{
		ID:                 op.OperatoryNum,
		Name:               op.OpName,
		Abbreviation:       op.Abbrev,
		DefaultProviderID:  op.ProvDentist,
		DefaultHygienistID: op.ProvHygienist,
		ClinicID:           op.ClinicNum,
		Active:             !op.IsHidden,
	}
}

// OperatoryToRemote maps a domain operatory onto the wire shape.
func (a *Adapter) OperatoryToRemote(op ehr.Operatory) APIOperatory {
	return APIOperatory{
		OperatoryNum:  op.ID,
		OpName:        op.Name,
		Abbrev:        op.Abbreviation,
		ProvDentist:   op.DefaultProviderID,
		ProvHygienist: op.DefaultHygienistID,
		ClinicNum:     op.ClinicID,
		IsHidden:      !op.Active,
	}
}

// SlotToDomain maps a wire slot into the domain model.
func (a *Adapter) SlotToDomain(s APISlot) (ehr.Slot, error) {
	start, err := a.parseDateTime(s.DateTimeStart)
	if err != nil {
		return ehr.Slot{}, &ValidationError{Field: "DateTimeStart", Reason: err.Error()}
	}
	end, err := a.parseDateTime(s.DateTimeEnd)
	if err != nil {
		return ehr.Slot{}, &ValidationError{Field: "DateTimeEnd", Reason: err.Error()}
	}
	return ehr.Slot{
		ProviderID:  s.ProvNum,
		OperatoryID: s.OpNum,
		Start:       start,
		End:         end,
	}, nil
}

func (a *Adapter) parseDate(s string) (time.Time, error) {
	if s == "" || s == zeroDate {
		return time.Time{}, nil
	}
	return time.ParseInLocation(dateLayout, s, a.loc)
}

func (a *Adapter) formatDate(t time.Time) string {
	if t.IsZero() {
		return zeroDate
	}
	return t.Format(dateLayout)
}

func (a *Adapter) parseDateTime(s string) (time.Time, error) {
	return time.ParseInLocation(dateTimeLayout, s, a.loc)
}

func (a *Adapter) parseOptionalDateTime(s string) (*time.Time, error) {
	if s == "" || strings.HasPrefix(s, zeroDate) {
		return nil, nil
	}
	t, err := a.parseDateTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (a *Adapter) formatDateTime(t time.Time) string {
	return t.Format(dateTimeLayout)
}

func (a *Adapter) formatOptionalDateTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return a.formatDateTime(*t)
}

func genderToDomain(code int) ehr.Gender {
	switch code {
	case genderMale:
		return ehr.GenderMale
	case genderFemale:
		return ehr.GenderFemale
	default:
		return ehr.GenderUnknown
	}
}

func genderToRemote(g ehr.Gender) int {
	switch g {
	case ehr.GenderMale:
		return genderMale
	case ehr.GenderFemale:
		return genderFemale
	default:
		return genderUnknown
	}
}

func patStatusToDomain(code int) ehr.PatientStatus {
	switch code {
	case patStatusNonPatient:
		return ehr.PatientStatusNonPatient
	case patStatusInactive:
		return ehr.PatientStatusInactive
	case patStatusArchived:
		return ehr.PatientStatusArchived
	case patStatusDeceased:
		return ehr.PatientStatusDeceased
	case patStatusProspective:
		return ehr.PatientStatusProspective
	default:
		return ehr.PatientStatusActive
	}
}

func patStatusToRemote(s ehr.PatientStatus) int {
	switch s {
	case ehr.PatientStatusNonPatient:
		return patStatusNonPatient
	case ehr.PatientStatusInactive:
		return patStatusInactive
	case ehr.PatientStatusArchived:
		return patStatusArchived
	case ehr.PatientStatusDeceased:
		return patStatusDeceased
	case ehr.PatientStatusProspective:
		return patStatusProspective
	default:
		return patStatusPatient
	}
}

func aptStatusToDomain(code int) ehr.AppointmentStatus {
	switch code {
	case aptStatusComplete:
		return ehr.AppointmentComplete
	case aptStatusUnschedList:
		return ehr.AppointmentUnscheduled
	case aptStatusASAP:
		return ehr.AppointmentASAP
	case aptStatusBroken:
		return ehr.AppointmentBroken
	case aptStatusPlanned:
		return ehr.AppointmentPlanned
	default:
		return ehr.AppointmentScheduled
	}
}

func aptStatusToRemote(s ehr.AppointmentStatus) int {
	switch s {
	case ehr.AppointmentComplete:
		return aptStatusComplete
	case ehr.AppointmentUnscheduled:
		return aptStatusUnschedList
	case ehr.AppointmentASAP:
		return aptStatusASAP
	case ehr.AppointmentBroken:
		return aptStatusBroken
	case ehr.AppointmentPlanned:
		return aptStatusPlanned
	default:
		return aptStatusScheduled
	}
}

func contactToDomain(code int) ehr.ContactMethod {
	switch code {
	case contactDoNotContact:
		return ehr.ContactDoNotContact
	case contactHmPhone:
		return ehr.ContactHomePhone
	case contactWkPhone:
		return ehr.ContactWorkPhone
	case contactWirelessPh:
		return ehr.ContactWirelessPhone
	case contactEmail:
		return ehr.ContactEmail
	case contactTextMessage:
		return ehr.ContactText
	case contactMail:
		return ehr.ContactMail
	default:
		return ehr.ContactNone
	}
}

func contactToRemote(m ehr.ContactMethod) int {
	switch m {
	case ehr.ContactDoNotContact:
		return contactDoNotContact
	case ehr.ContactHomePhone:
		return contactHmPhone
	case ehr.ContactWorkPhone:
		return contactWkPhone
	case ehr.ContactWirelessPhone:
		return contactWirelessPh
	case ehr.ContactEmail:
		return contactEmail
	case ehr.ContactText:
		return contactTextMessage
	case ehr.ContactMail:
		return contactMail
	default:
		return contactNone
	}
}
