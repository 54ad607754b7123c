package server

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/http"
	"net/url"
	"os"
)

// FormSubmission holds the fields the contact form posts. Missing fields are
// empty strings.
type FormSubmission struct {
	Name    string // "ime"
	Email   string // "email"
	Message string // "poruka"
}

// formTemplateData is what the template is executed with. Fields keeps the
// posted keys so templates may use either {{.Name}} or {{index .Fields "ime"}}.
type formTemplateData struct {
	FormSubmission
	Fields map[string]string
}

// parseFormSubmission decodes a URL-encoded body. Malformed pairs are
// skipped rather than failing the whole body.
func parseFormSubmission(body []byte) FormSubmission {
	values, _ := url.ParseQuery(string(body))
	return FormSubmission{
		Name:    values.Get("ime"),
		Email:   values.Get("email"),
		Message: values.Get("poruka"),
	}
}

// renderFormTemplate reads the template from disk and renders it into a
// buffer, so a failing template never produces partial output.
func renderFormTemplate(path string, sub FormSubmission) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template: %w", err)
	}

	tmpl, err := template.New("form").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}

	data := formTemplateData{
		FormSubmission: sub,
		Fields: map[string]string{
			"ime":    sub.Name,
			"email":  sub.Email,
			"poruka": sub.Message,
		},
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	return buf.Bytes(), nil
}

// handleForm renders the form template from a URL-encoded POST body. The
// body is read in full, bounded by MaxFormBytes, regardless of the declared
// content type.
func (s *Server) handleForm(w http.ResponseWriter, r *http.Request) {
	rid := RequestIDFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxFormBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			GetMetrics().RecordFormError()
			textError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		GetMetrics().RecordFormError()
		textError(w, "bad request", http.StatusBadRequest)
		return
	}

	page, err := renderFormTemplate(s.cfg.TemplatePath, parseFormSubmission(body))
	if err != nil {
		Error("form_template_failed", map[string]any{
			"request_id": rid,
			"template":   s.cfg.TemplatePath,
		}, err)
		GetMetrics().RecordFormError()
		textError(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	GetMetrics().RecordForm()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}
