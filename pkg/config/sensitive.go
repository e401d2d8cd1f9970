package config

import "encoding/json"

const redactedPlaceholder = "[REDACTED]"

// SensitiveString holds a secret that must never leak through logs or
// serialized output. String and MarshalJSON redact; Value returns the secret.
type SensitiveString string

func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return redactedPlaceholder
}

// GoString redacts %#v output as well.
func (s SensitiveString) GoString() string {
	return s.String()
}

// Value returns the underlying secret for use at connection boundaries.
func (s SensitiveString) Value() string {
	return string(s)
}

func (s SensitiveString) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *SensitiveString) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = SensitiveString(raw)
	return nil
}
