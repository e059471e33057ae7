package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vinayprograms/skillsynth/errors"
)

// Stages at which an item can fail.
const (
	StageValidate    = "validate"
	StageDescription = "description"
	StageEmbed       = "embed"
	StageUpsert      = "upsert"
)

// Category is one taxonomy group.
type Category struct {
	Name   string
	Skills []string
}

// Taxonomy maps category names to skill names. It decodes from a JSON object
// and keeps the object's key order.
type Taxonomy []Category

// UnmarshalJSON decodes {"Databases": ["PostgreSQL", ...], ...}.
func (t *Taxonomy) UnmarshalJSON(data []byte) error {
	var out Taxonomy
	err := decodeOrderedObject(data, func(key string, dec *json.Decoder) error {
		var skills []string
		if err := dec.Decode(&skills); err != nil {
			return fmt.Errorf("category %q: %w", key, err)
		}
		out = append(out, Category{Name: key, Skills: skills})
		return nil
	})
	if err != nil {
		return err
	}
	*t = out
	return nil
}

// MarshalJSON encodes the taxonomy as an object in category order.
func (t Taxonomy) MarshalJSON() ([]byte, error) {
	return encodeOrderedObject(len(t), func(i int) (string, interface{}) {
		skills := t[i].Skills
		if skills == nil {
			skills = []string{}
		}
		return t[i].Name, skills
	})
}

// SkillLevel is one skill with a self-reported proficiency (1-5).
type SkillLevel struct {
	Name  string
	Level int
}

// SkillLevels is an ordered skill-name to proficiency map. It decodes from
// a JSON object and keeps the object's key order.
type SkillLevels []SkillLevel

// UnmarshalJSON decodes {"Python": 4, "React": 2}.
func (s *SkillLevels) UnmarshalJSON(data []byte) error {
	var out SkillLevels
	err := decodeOrderedObject(data, func(key string, dec *json.Decoder) error {
		var level int
		if err := dec.Decode(&level); err != nil {
			return fmt.Errorf("skill %q: %w", key, err)
		}
		out = append(out, SkillLevel{Name: key, Level: level})
		return nil
	})
	if err != nil {
		return err
	}
	*s = out
	return nil
}

// MarshalJSON encodes the levels as an object in insertion order.
func (s SkillLevels) MarshalJSON() ([]byte, error) {
	return encodeOrderedObject(len(s), func(i int) (string, interface{}) {
		return s[i].Name, s[i].Level
	})
}

// UserProfile is one user to ingest.
type UserProfile struct {
	ID               string      `json:"id"`
	Skills           SkillLevels `json:"skills"`
	TimeAvailability int         `json:"time_availability"`
}

// Failure records one item that did not make it into the batch.
type Failure struct {
	ID      string `json:"id"`
	Stage   string `json:"stage"`
	Code    string `json:"code"`
	Status  int    `json:"status,omitempty"`
	Message string `json:"message"`
}

func newFailure(id, stage string, err error) Failure {
	return Failure{
		ID:      id,
		Stage:   stage,
		Code:    errors.Code(err).String(),
		Status:  errors.Status(err),
		Message: err.Error(),
	}
}

// Report is the outcome of one ingestion run.
type Report struct {
	Namespace string        `json:"namespace"`
	Processed []string      `json:"processed"`
	Uploaded  int           `json:"uploaded_count"`
	Failures  []Failure     `json:"failures"`
	Canceled  bool          `json:"canceled"`
	Duration  time.Duration `json:"-"`
}

// FailuresByStage counts failures per stage.
func (r *Report) FailuresByStage() map[string]int {
	out := make(map[string]int)
	for _, f := range r.Failures {
		out[f.Stage]++
	}
	return out
}

func decodeOrderedObject(data []byte, field func(key string, dec *json.Decoder) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("expected JSON object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("expected object key, got %v", tok)
		}
		if err := field(key, dec); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

func encodeOrderedObject(n int, entry func(i int) (string, interface{})) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, value := entry(i)
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
