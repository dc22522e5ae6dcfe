package opendental

import "time"

const (
	// dateLayout and dateTimeLayout are the fixed wire formats; no locale
	// formatting is ever applied.
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"

	// zeroDate is how the remote system encodes an unset date.
	zeroDate = "0001-01-01"

	// PatternQuantum is the fixed time granularity of the appointment
	// duration pattern: one pattern character per quantum.
	PatternQuantum = 5 * time.Minute

	patternChar = 'X'
)

// APIPatient is the remote wire shape of a patient record.
type APIPatient struct {
	PatNum        int64  `json:"PatNum"`
	LName         string `json:"LName"`
	FName         string `json:"FName"`
	Email         string `json:"Email"`
	WirelessPhone string `json:"WirelessPhone"`
	HmPhone       string `json:"HmPhone"`
	WkPhone       string `json:"WkPhone"`
	Birthdate     string `json:"Birthdate"`
	Address       string `json:"Address"`
	Address2      string `json:"Address2"`
	City          string `json:"City"`
	State         string `json:"State"`
	Zip           string `json:"Zip"`
	Gender        int    `json:"Gender"`
	PatStatus     int    `json:"PatStatus"`
	PriProv       int64  `json:"PriProv"`
	SecProv       int64  `json:"SecProv"`
	ClinicNum     int64  `json:"ClinicNum"`

	PreferContactMethod int `json:"PreferContactMethod"`
	PreferRecallMethod  int `json:"PreferRecallMethod"`
	PreferConfirmMethod int `json:"PreferConfirmMethod"`
}

// APIAppointment is the remote wire shape of an appointment. Duration is
// encoded in Pattern: one character per PatternQuantum.
type APIAppointment struct {
	AptNum      int64  `json:"AptNum"`
	PatNum      int64  `json:"PatNum"`
	ProvNum     int64  `json:"ProvNum"`
	ProvHyg     int64  `json:"ProvHyg"`
	Op          int64  `json:"Op"`
	AptDateTime string `json:"AptDateTime"`
	Pattern     string `json:"Pattern"`
	AptStatus   int    `json:"AptStatus"`
	Confirmed   int64  `json:"Confirmed"`
	Note        string `json:"Note"`
	ClinicNum   int64  `json:"ClinicNum"`

	DateTimeArrived   string `json:"DateTimeArrived"`
	DateTimeSeated    string `json:"DateTimeSeated"`
	DateTimeDismissed string `json:"DateTimeDismissed"`
}

// APIProvider is the remote wire shape of a provider.
type APIProvider struct {
	ProvNum        int64  `json:"ProvNum"`
	LName          string `json:"LName"`
	FName          string `json:"FName"`
	Abbr           string `json:"Abbr"`
	NationalProvID string `json:"NationalProvID"`
}

// APIOperatory is the remote wire shape of an operatory.
type APIOperatory struct {
	OperatoryNum  int64  `json:"OperatoryNum"`
	OpName        string `json:"OpName"`
	Abbrev        string `json:"Abbrev"`
	ProvDentist   int64  `json:"ProvDentist"`
	ProvHygienist int64  `json:"ProvHygienist"`
	ClinicNum     int64  `json:"ClinicNum"`
	IsHidden      bool   `json:"IsHidden"`
}

// APISlot is one opening returned by the remote slot search.
type APISlot struct {
	ProvNum       int64  `json:"ProvNum"`
	OpNum         int64  `json:"OpNum"`
	DateTimeStart string `json:"DateTimeStart"`
	DateTimeEnd   string `json:"DateTimeEnd"`
}

// Remote enum codes. The adapter maps these to the named enums in
// internal/ehr and back.
const (
	genderMale = iota
	genderFemale
	genderUnknown
)

const (
	patStatusPatient = iota
	patStatusNonPatient
	patStatusInactive
	patStatusArchived
	patStatusDeceased
	patStatusProspective
)

const (
	aptStatusScheduled = iota + 1
	aptStatusComplete
	aptStatusUnschedList
	aptStatusASAP
	aptStatusBroken
	aptStatusPlanned
)

const (
	contactNone = iota
	contactDoNotContact
	contactHmPhone
	contactWkPhone
	contactWirelessPh
	contactEmail
	contactTextMessage
	contactMail
)
