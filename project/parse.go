package project

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/vinayprograms/skillsynth/errors"
	"github.com/vinayprograms/skillsynth/llm"
)

// reply is the object the generator is asked to produce. Its
// relevant_skills field is ignored; the computed set replaces it.
type reply struct {
	ProjectName       string    `json:"project_name"`
	Description       string    `json:"description"`
	ExperienceLevel   flexInt   `json:"experience_level"`
	TimeAvailability  flexInt   `json:"time_availability"`
	LearningResources resources `json:"learning_resources"`
}

// flexInt accepts 3, 3.0 and "3". Zero means absent.
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*n = flexInt(f)
	return nil
}

// resources accepts a list of strings or of {title, url} objects.
type resources []string

func (r *resources) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		var single string
		if json.Unmarshal(data, &single) == nil {
			*r = resources{single}
			return nil
		}
		return err
	}
	out := make(resources, 0, len(raw))
	for _, item := range raw {
		var s string
		if json.Unmarshal(item, &s) == nil {
			out = append(out, s)
			continue
		}
		var obj map[string]interface{}
		if err := json.Unmarshal(item, &obj); err != nil {
			return err
		}
		out = append(out, describeResource(obj))
	}
	*r = out
	return nil
}

func describeResource(obj map[string]interface{}) string {
	field := func(keys ...string) string {
		for _, k := range keys {
			if s, ok := obj[k].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}
	title := field("title", "name")
	url := field("url", "link")
	switch {
	case title != "" && url != "":
		return title + " (" + url + ")"
	case url != "":
		return url
	default:
		return title
	}
}

// parseReply decodes the generator's reply in one pass. Markdown fences and
// prose around the object are ignored, and a reply that is a JSON string
// holding the object is unwrapped once.
func parseReply(text string) (*reply, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, `"`) {
		var inner string
		if err := json.Unmarshal([]byte(text), &inner); err == nil {
			text = strings.TrimSpace(inner)
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, malformed("no JSON object in generation output", text)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(text[start : end+1])))
	var r reply
	if err := dec.Decode(&r); err != nil {
		return nil, malformed("decode generation output: "+err.Error(), text)
	}
	if strings.TrimSpace(r.ProjectName) == "" {
		return nil, malformed("generation output has no project_name", text)
	}
	return &r, nil
}

func malformed(msg, text string) error {
	return errors.Malformed(msg,
		errors.WithUpstream(llm.Upstream),
		errors.WithMetadata("output", truncate(text, 200)))
}

// truncate shortens s to at most n bytes, cutting on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
