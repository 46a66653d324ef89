package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/m-mizutani/goerr/v2"

	"github.com/paras-0007/HMS-Portal/internal/models"
)

// maxPromptTextLength caps the combined application text sent to the
// model.
const maxPromptTextLength = 25000

// Classifier extracts a structured applicant profile from application
// text using Vertex AI Gemini. It is non-deterministic and occasionally
// wrong; callers must treat malformed output as a retryable failure.
type Classifier struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewClassifier creates a Vertex AI backed classifier.
func NewClassifier(ctx context.Context, projectID, location string) (*Classifier, error) {
	if projectID == "" {
		return nil, goerr.New("google cloud project is not configured")
	}

	client, err := genai.NewClient(ctx, projectID, location)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create Vertex AI client")
	}

	model := client.GenerativeModel("gemini-1.5-flash")
	model.SetTemperature(0.1)
	model.SetTopK(40)
	model.SetTopP(0.95)
	model.SetMaxOutputTokens(1024)

	return &Classifier{client: client, model: model}, nil
}

// Extract sends the subject, body, and resume text to the model and
// parses the structured profile out of its response. A result without a
// name is an error.
func (c *Classifier) Extract(ctx context.Context, subject, body, resumeText string) (*models.ApplicantProfile, error) {
	prompt := buildExtractionPrompt(subject, body, resumeText)

	resp, err := c.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return nil, goerr.Wrap(err, "classification request failed")
	}
	if len(resp.Candidates) == 0 {
		return nil, goerr.New("no response candidates returned")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}

	profile, err := parseProfile(sb.String())
	if err != nil {
		return nil, err
	}
	if !profile.HasName() {
		return nil, goerr.New("classifier returned no usable name")
	}
	return profile, nil
}

// Close releases the underlying Vertex AI client.
func (c *Classifier) Close() error {
	return c.client.Close()
}

// buildExtractionPrompt asks the model for exactly one JSON object with
// the applicant profile fields.
func buildExtractionPrompt(subject, body, resumeText string) string {
	combined := fmt.Sprintf(
		"EMAIL SUBJECT: %s\n\nEMAIL BODY: %s\n\nRESUME CONTENT: %s",
		subject, body, resumeText)
	if len(combined) > maxPromptTextLength {
		combined = combined[:maxPromptTextLength]
	}

	var sb strings.Builder
	sb.WriteString("You are an expert HR data extraction system. Extract information from the job application text and return ONLY a valid JSON object.\n\n")
	sb.WriteString("IMPORTANT: Return only raw JSON, no markdown, no explanations, no ```json markers.\n\n")
	sb.WriteString("Required JSON structure:\n")
	sb.WriteString("{\n")
	sb.WriteString(`  "Name": "Full name of applicant",` + "\n")
	sb.WriteString(`  "Email": "Email address",` + "\n")
	sb.WriteString(`  "Phone": "10-digit mobile number (remove country codes like +91)",` + "\n")
	sb.WriteString(`  "Education": "Brief summary of educational background",` + "\n")
	sb.WriteString(`  "JobHistory": "Markdown bullet list of jobs with title, company, duration, and 1-2 line summary",` + "\n")
	sb.WriteString(fmt.Sprintf(`  "Domain": "Primary role from these options: %s"`+"\n", strings.Join(models.CompanyRoles, ", ")))
	sb.WriteString("}\n\n")
	sb.WriteString("Text to analyze:\n")
	sb.WriteString(combined)
	sb.WriteString("\n\nJSON Response:")
	return sb.String()
}

// parseProfile extracts the first JSON object from the model response,
// tolerating surrounding prose and markdown fences.
func parseProfile(response string) (*models.ApplicantProfile, error) {
	startIdx := strings.Index(response, "{")
	endIdx := strings.LastIndex(response, "}")
	if startIdx == -1 || endIdx == -1 || endIdx < startIdx {
		return nil, goerr.New("no JSON found in classifier response")
	}

	var profile models.ApplicantProfile
	if err := json.Unmarshal([]byte(response[startIdx:endIdx+1]), &profile); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal classifier response")
	}
	return &profile, nil
}
