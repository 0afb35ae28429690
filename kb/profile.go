package kb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"klaus/types"
)

// Text is a profile field that may arrive as a string, a number or null.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	*t = Text(data)
	return nil
}

func (t Text) String() string { return strings.TrimSpace(string(t)) }

type Date struct {
	Year  Text `json:"year"`
	Month Text `json:"month"`
}

func (d *Date) String() string {
	if d == nil {
		return ""
	}
	return joinNonEmpty("-", d.Year.String(), d.Month.String())
}

type Position struct {
	Company      Text  `json:"company"`
	CompanyName  Text  `json:"company_name"`
	Organization Text  `json:"organization"`
	Title        Text  `json:"title"`
	Position     Text  `json:"position"`
	Location     Text  `json:"location"`
	Description  Text  `json:"description"`
	Summary      Text  `json:"summary"`
	StartDate    *Date `json:"start_date"`
	EndDate      *Date `json:"end_date"`
	Current      bool  `json:"current"`
}

type Education struct {
	School       Text `json:"school"`
	SchoolName   Text `json:"school_name"`
	DegreeName   Text `json:"degree_name"`
	Degree       Text `json:"degree"`
	FieldOfStudy Text `json:"field_of_study"`
}

type Certification struct {
	Name          Text `json:"name"`
	Authority     Text `json:"authority"`
	Issuer        Text `json:"issuer"`
	LicenseNumber Text `json:"license_number"`
	URL           Text `json:"url"`
}

type Project struct {
	Name        Text `json:"name"`
	Title       Text `json:"title"`
	Description Text `json:"description"`
	URL         Text `json:"url"`
}

// Skill is either a bare string or an object with a name.
type Skill string

func (s *Skill) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*s = Skill(name)
		return nil
	}
	var obj struct {
		Name Text `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*s = Skill(obj.Name)
	return nil
}

// Profile is the cached LinkedIn-style profile dump. Field aliases cover
// the different shapes profile providers return.
type Profile struct {
	Headline       Text            `json:"headline"`
	Summary        Text            `json:"summary"`
	Experiences    []Position      `json:"experiences"`
	Positions      []Position      `json:"positions"`
	Educations     []Education     `json:"educations"`
	Certifications []Certification `json:"certifications"`
	Skills         []Skill         `json:"skills"`
	Projects       []Project       `json:"projects"`
}

func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}
	return &p, nil
}

// FlattenProfile emits one fact per profile item. Each text is a
// pipe-delimited line built from the sub-fields that are present.
// Ids are "headline", "about", "exp:{i}", "edu:{i}", "cert:{i}",
// "skill:{i}" and "proj:{i}"; the builder adds the profile namespace.
func FlattenProfile(p *Profile) []types.Fact {
	if p == nil {
		return nil
	}
	var facts []types.Fact
	add := func(id, text string) {
		if text != "" {
			facts = append(facts, types.Fact{ID: id, Text: text})
		}
	}

	if h := p.Headline.String(); h != "" {
		add("headline", "Headline: "+h)
	}
	if s := p.Summary.String(); s != "" {
		add("about", "About: "+s)
	}

	positions := p.Experiences
	if len(positions) == 0 {
		positions = p.Positions
	}
	for i, pos := range positions {
		to := pos.EndDate.String()
		if to == "" && pos.Current {
			to = "Present"
		}
		add(fmt.Sprintf("exp:%d", i), joinFields(
			"Experience: "+firstNonEmpty(pos.Title, pos.Position),
			field("Company", firstNonEmpty(pos.Company, pos.CompanyName, pos.Organization)),
			field("Location", pos.Location.String()),
			field("From", pos.StartDate.String()),
			field("To", to),
			field("Details", firstNonEmpty(pos.Description, pos.Summary)),
		))
	}

	for i, e := range p.Educations {
		add(fmt.Sprintf("edu:%d", i), joinFields(
			"Education: "+firstNonEmpty(e.School, e.SchoolName),
			field("Degree", firstNonEmpty(e.DegreeName, e.Degree)),
			field("Field", e.FieldOfStudy.String()),
		))
	}

	for i, c := range p.Certifications {
		add(fmt.Sprintf("cert:%d", i), joinFields(
			"Certification: "+c.Name.String(),
			field("Issuer", firstNonEmpty(c.Authority, c.Issuer)),
			field("License", c.LicenseNumber.String()),
			field("URL", c.URL.String()),
		))
	}

	for i, s := range p.Skills {
		if name := strings.TrimSpace(string(s)); name != "" {
			add(fmt.Sprintf("skill:%d", i), "Skill: "+name)
		}
	}

	for i, pr := range p.Projects {
		add(fmt.Sprintf("proj:%d", i), joinFields(
			"Project: "+firstNonEmpty(pr.Name, pr.Title),
			field("Details", pr.Description.String()),
			field("URL", pr.URL.String()),
		))
	}

	return facts
}

func field(label, value string) string {
	if value == "" {
		return ""
	}
	return label + ": " + value
}

func joinFields(parts ...string) string {
	return joinNonEmpty(" | ", parts...)
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}

func firstNonEmpty(values ...Text) string {
	for _, v := range values {
		if s := v.String(); s != "" {
			return s
		}
	}
	return ""
}
