package profile

// Profile describes the person being monitored: who they are, what they live
// with, who to call, and their personal baselines.
type Profile struct {
	Name             string   `json:"name,omitempty"`
	Age              int      `json:"age,omitempty"`
	Conditions       []string `json:"conditions,omitempty"`
	Medications      []string `json:"medications,omitempty"`
	EmergencyContact Contact  `json:"emergency_contact"`
	Baseline         Baseline `json:"baseline"`
	Language         string   `json:"language,omitempty"`
}

// Contact is the person to reach when a reminder suggests calling family.
type Contact struct {
	Name     string `json:"name,omitempty"`
	Relation string `json:"relation,omitempty"`
	Phone    string `json:"phone,omitempty"`
}

// Baseline holds personal vitals targets. Zero values mean "use the
// evaluator defaults".
type Baseline struct {
	RestingHRLow     float64 `json:"resting_hr_low,omitempty"`
	RestingHRHigh    float64 `json:"resting_hr_high,omitempty"`
	SleepTargetHours float64 `json:"sleep_target_hours,omitempty"`
}

// Profile keys as stored in the subject_profile table.
const (
	KeyName            = "identity.name"
	KeyAge             = "identity.age"
	KeyConditions      = "health.conditions"
	KeyMedications     = "health.medications"
	KeyContactName     = "contact.name"
	KeyContactRelation = "contact.relation"
	KeyContactPhone    = "contact.phone"
	KeyHRLow           = "baseline.hr_low"
	KeyHRHigh          = "baseline.hr_high"
	KeySleepTarget     = "baseline.sleep_target"
	KeyLanguage        = "preferences.language"
)

// Keys lists every key the Manager understands, in display order.
var Keys = []string{
	KeyName, KeyAge, KeyConditions, KeyMedications,
	KeyContactName, KeyContactRelation, KeyContactPhone,
	KeyHRLow, KeyHRHigh, KeySleepTarget, KeyLanguage,
}
