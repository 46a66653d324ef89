package models

import "strings"

// Defaults applied to profile fields the classifier left empty. Stated
// here once rather than scattered per call site.
const (
	DefaultName       = "Unknown Applicant"
	DefaultEducation  = "Not specified"
	DefaultJobHistory = "No work experience specified"
	DefaultDomain     = "Other"
)

// CompanyRoles is the closed role list the classifier chooses from.
var CompanyRoles = []string{
	"LLM Engineer", "AI/ML Engineer", "SEO", "Full Stack Developer",
	"Project Manager", "Content", "Digital Marketing", "QA Engineer",
	"Software Developer", "UI/UX", "App Developer", "Graphic Designer",
	"Videographer", "BDE", "HR", "DevOps Engineer", "Other",
}

// roleKeywords maps a canonical role to the spellings seen in the wild.
// Order matters: earlier entries win when keywords overlap.
var roleKeywords = []struct {
	role     string
	keywords []string
}{
	{"DevOps Engineer", []string{"devops", "aws cloud engineer"}},
	{"Full Stack Developer", []string{"full stack", "fullstack"}},
	{"AI/ML Engineer", []string{"ai/ml", "machine learning", "ml engineer", "llm engineer"}},
	{"QA Engineer", []string{"qa", "quality assurance", "testing"}},
	{"Software Developer", []string{"software developer", "software engineer"}},
	{"Digital Marketing", []string{"digital marketing", "ppc", "seo"}},
	{"Content", []string{"content writing", "content creation", "copywriting"}},
	{"UI/UX", []string{"ui/ux", "ui", "ux", "designer", "graphic designer"}},
	{"Project Manager", []string{"project manager", "project management"}},
	{"Business Development", []string{"bde", "business development", "sales"}},
	{"HR", []string{"hr", "human resources", "recruitment"}},
}

// ApplicantProfile is the structured guess the classifier produces for one
// application. The JSON tags match the shape the extraction prompt asks
// the model for.
type ApplicantProfile struct {
	Name       string `json:"Name"`
	Email      string `json:"Email"`
	Phone      string `json:"Phone"`
	Education  string `json:"Education"`
	JobHistory string `json:"JobHistory"`
	Domain     string `json:"Domain"`
	ResumeURL  string `json:"CV_URL,omitempty"`
}

// HasName reports whether the profile carries a usable applicant name.
// A guess without one is treated as a classification failure.
func (p *ApplicantProfile) HasName() bool {
	return p != nil && strings.TrimSpace(p.Name) != ""
}

// Normalize applies the defaulting rules and field cleanup in one place:
// the email natural key, the 10-digit phone form, the canonical domain,
// and placeholder text for empty free-form fields.
func (p *ApplicantProfile) Normalize() {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = NormalizeEmail(p.Email)
	p.Phone = normalizePhone(p.Phone)
	p.Domain = NormalizeDomain(p.Domain)
	if strings.TrimSpace(p.Education) == "" {
		p.Education = DefaultEducation
	}
	if strings.TrimSpace(p.JobHistory) == "" {
		p.JobHistory = DefaultJobHistory
	}
}

// NormalizeDomain maps a free-text role onto the canonical role list.
// Unrecognized values are kept, title-cased, so new roles surface in the
// dashboard instead of collapsing into "Other".
func NormalizeDomain(domain string) string {
	trimmed := strings.TrimSpace(domain)
	if trimmed == "" {
		return DefaultDomain
	}
	lower := strings.ToLower(trimmed)
	for _, entry := range roleKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.role
			}
		}
	}
	return titleCase(trimmed)
}

// normalizePhone strips non-digits and the Indian country code, keeping
// the trailing 10 digits when the value is long enough.
func normalizePhone(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) == 12 && strings.HasPrefix(d, "91") {
		d = d[2:]
	}
	if len(d) > 10 {
		d = d[len(d)-10:]
	}
	return d
}
