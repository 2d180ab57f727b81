// Package validation validates request payloads and JSON-LD documents of
// UnifiedViews records.
//
// It uses:
//   - go-playground/validator for struct tags, with the custom tags
//     prefixname, absiri, dputype and schedulerule
//   - json-gold to check that imported documents are well-formed JSON-LD
//
// # Usage Example
//
//	v := validation.New()
//	result := v.Struct(&req)
//	if !result.Valid {
//	    for _, err := range result.Errors {
//	        fmt.Printf("%s: %s\n", err.Field, err.Message)
//	    }
//	}
package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/piprate/json-gold/ld"

	"evalgo.org/unifiedviews/internal/scheduler"
	"evalgo.org/unifiedviews/models"
)

// Validator combines struct validation with JSON-LD checks.
type Validator struct {
	// structValidator validates Go struct constraints and tags
	structValidator *validator.Validate

	// jsonldProcessor validates JSON-LD semantic correctness
	jsonldProcessor *ld.JsonLdProcessor

	// loader resolves the document context without network access
	loader *ld.CachingDocumentLoader
}

// ValidationError represents a single validation error with field-level details.
type ValidationError struct {
	// Field is the JSON name of the field that failed validation
	Field string `json:"field"`

	// Message describes why the validation failed
	Message string `json:"message"`

	// Value is the invalid value that caused the error (optional)
	Value interface{} `json:"value,omitempty"`
}

// ValidationResult represents the complete result of a validation operation.
type ValidationResult struct {
	// Valid is true if validation passed, false otherwise
	Valid bool `json:"valid"`

	// Errors contains all validation errors found (empty if Valid is true)
	Errors []ValidationError `json:"errors,omitempty"`
}

// Error joins the messages of an invalid result.
func (r *ValidationResult) Error() string {
	parts := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		parts = append(parts, e.Field+": "+e.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Err returns nil for a valid result and the result itself otherwise.
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return r
}

func result(errs []ValidationError) *ValidationResult {
	return &ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// pnPrefix follows the SPARQL PN_PREFIX production restricted to ASCII.
var pnPrefix = regexp.MustCompile(`^[A-Za-z](?:[A-Za-z0-9_.-]*[A-Za-z0-9_-])?$`)

// New creates a Validator with the custom tags registered.
func New() *Validator {
	sv := validator.New(validator.WithRequiredStructEnabled())
	sv.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form", "query"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return f.Name
	})
	must(sv.RegisterValidation("prefixname", func(fl validator.FieldLevel) bool {
		return IsPrefixName(fl.Field().String())
	}))
	must(sv.RegisterValidation("absiri", func(fl validator.FieldLevel) bool {
		return IsAbsoluteIRI(fl.Field().String())
	}))
	must(sv.RegisterValidation("dputype", func(fl validator.FieldLevel) bool {
		return models.DPUType(fl.Field().String()).Valid()
	}))
	must(sv.RegisterValidation("schedulerule", func(fl validator.FieldLevel) bool {
		_, err := scheduler.ParsePeriod(fl.Field().String())
		return err == nil
	}))

	loader := ld.NewCachingDocumentLoader(ld.NewDefaultDocumentLoader(nil))
	for _, u := range []string{models.Context, models.Context + "/", "http://schema.org", "http://schema.org/"} {
		loader.AddDocument(u, schemaContext)
	}

	return &Validator{
		structValidator: sv,
		jsonldProcessor: ld.NewJsonLdProcessor(),
		loader:          loader,
	}
}

// schemaContext stands in for the schema.org context, which maps every term
// into the schema.org vocabulary.
var schemaContext = map[string]interface{}{
	"@context": map[string]interface{}{
		"@vocab": "https://schema.org/",
	},
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// IsPrefixName reports whether s is usable as a namespace prefix.
func IsPrefixName(s string) bool {
	return pnPrefix.MatchString(s)
}

// IsAbsoluteIRI reports whether s is an absolute IRI that can be written
// between angle brackets.
func IsAbsoluteIRI(s string) bool {
	if s == "" || strings.ContainsAny(s, "<>\"{}|^`\\ \t\n") {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.IsAbs()
}

// Struct validates v by its struct tags.
func (v *Validator) Struct(s interface{}) *ValidationResult {
	err := v.structValidator.Struct(s)
	if err == nil {
		return result(nil)
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return result([]ValidationError{{Field: "document", Message: err.Error()}})
	}
	errs := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, ValidationError{
			Field:   fieldPath(fe),
			Message: message(fe),
			Value:   fe.Value(),
		})
	}
	return result(errs)
}

// fieldPath drops the struct name from the namespace: Request.filters[0].value
// becomes filters[0].value.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "prefixname":
		return "must start with a letter and contain only letters, digits, '_', '-' and '.'"
	case "absiri":
		return "must be an absolute IRI"
	case "dputype":
		return fmt.Sprintf("must be one of: %s", joinTypes(models.DPUTypes))
	case "schedulerule":
		return "must be an ISO 8601 duration (PT15M, P1D) or a cron expression"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "gtefield":
		return "must not be before " + fe.Param()
	}
	return fmt.Sprintf("failed on the '%s' rule", fe.Tag())
}

func joinTypes(types []models.DPUType) string {
	s := make([]string, len(types))
	for i, t := range types {
		s[i] = string(t)
	}
	return strings.Join(s, ", ")
}

// ValidateDocument checks that data is a JSON-LD document of the given @type.
func (v *Validator) ValidateDocument(data []byte, docType string) (*ValidationResult, error) {
	errs := v.validateJSONLD(data)
	if len(errs) > 0 {
		return result(errs), nil
	}
	var head struct {
		Type string `json:"@type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return result([]ValidationError{{Field: "@type", Message: "must be a string"}}), nil
	}
	if head.Type != docType {
		errs = append(errs, ValidationError{
			Field:   "@type",
			Message: fmt.Sprintf("Type must be '%s'", docType),
			Value:   head.Type,
		})
	}
	return result(errs), nil
}

// ValidatePipelineDocument validates a pipeline JSON-LD document.
func (v *Validator) ValidatePipelineDocument(data []byte) (*models.Pipeline, *ValidationResult, error) {
	res, err := v.ValidateDocument(data, models.TypePipeline)
	if err != nil || !res.Valid {
		return nil, res, err
	}
	var p models.Pipeline
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, result([]ValidationError{{Field: "document", Message: fmt.Sprintf("Invalid JSON: %v", err)}}), nil
	}
	return &p, result(v.validatePipelineFields(&p)), nil
}

// validateJSONLD validates JSON-LD structure using json-gold.
func (v *Validator) validateJSONLD(data []byte) []ValidationError {
	var errs []ValidationError

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return append(errs, ValidationError{
			Field:   "document",
			Message: fmt.Sprintf("Invalid JSON: %v", err),
		})
	}

	docMap, ok := doc.(map[string]interface{})
	if !ok {
		return append(errs, ValidationError{Field: "document", Message: "JSON-LD document must be an object"})
	}
	for _, key := range []string{"@context", "@type", "@id"} {
		if _, has := docMap[key]; !has {
			errs = append(errs, ValidationError{
				Field:   key,
				Message: fmt.Sprintf("Missing %s field (required for JSON-LD)", key),
			})
		}
	}

	// expanding catches malformed contexts and keywords
	options := ld.NewJsonLdOptions("")
	options.DocumentLoader = v.loader
	if _, err := v.jsonldProcessor.Expand(doc, options); err != nil {
		errs = append(errs, ValidationError{
			Field:   "document",
			Message: fmt.Sprintf("Invalid JSON-LD structure: %v", err),
		})
	}
	return errs
}

func (v *Validator) validatePipelineFields(p *models.Pipeline) []ValidationError {
	var errs []ValidationError
	if strings.TrimSpace(p.Name) == "" {
		errs = append(errs, ValidationError{Field: "name", Message: "Name is required"})
	}
	if p.Visibility != "" && p.Visibility != models.VisibilityPrivate && p.Visibility != models.VisibilityPublic {
		errs = append(errs, ValidationError{
			Field:   "visibility",
			Message: "Visibility must be 'private' or 'public'",
			Value:   p.Visibility,
		})
	}
	for i, n := range p.Graph.Nodes {
		if n.ID == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("graph.nodes[%d].id", i), Message: "Node ID is required"})
		}
		if n.TemplateID == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("graph.nodes[%d].templateId", i), Message: "Template is required"})
		}
	}
	for i, e := range p.Graph.Edges {
		if e.From == "" || e.To == "" {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("graph.edges[%d]", i), Message: "Edge needs both ends"})
		}
	}
	return errs
}

// ValidateSchedule checks the business rules of a schedule.
func (v *Validator) ValidateSchedule(s *models.Schedule) *ValidationResult {
	var errs []ValidationError
	if s.PipelineID == "" {
		errs = append(errs, ValidationError{Field: "pipelineId", Message: "Pipeline is required"})
	}
	switch s.ScheduleType {
	case models.SchedulePeriodically:
		if _, err := scheduler.ParsePeriod(s.Period); err != nil {
			errs = append(errs, ValidationError{Field: "period", Message: err.Error(), Value: s.Period})
		}
	case models.ScheduleAfterPipeline:
		if len(s.AfterPipelines) == 0 {
			errs = append(errs, ValidationError{Field: "afterPipelines", Message: "At least one pipeline is required"})
		}
		for _, id := range s.AfterPipelines {
			if id == s.PipelineID {
				errs = append(errs, ValidationError{Field: "afterPipelines", Message: "A pipeline cannot wait for itself", Value: id})
			}
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "scheduleType",
			Message: fmt.Sprintf("Invalid type: must be one of: %s, %s", models.SchedulePeriodically, models.ScheduleAfterPipeline),
			Value:   s.ScheduleType,
		})
	}
	if s.StrictlyTimed && s.StrictToleranceMinutes < 0 {
		errs = append(errs, ValidationError{Field: "strictToleranceMinutes", Message: "Tolerance cannot be negative", Value: s.StrictToleranceMinutes})
	}
	return result(errs)
}

// ValidatePrefix checks a namespace prefix.
func (v *Validator) ValidatePrefix(p *models.NamespacePrefix) *ValidationResult {
	var errs []ValidationError
	if !IsPrefixName(p.Name) {
		errs = append(errs, ValidationError{Field: "name", Message: "Invalid prefix name", Value: p.Name})
	}
	if !IsAbsoluteIRI(p.URI) {
		errs = append(errs, ValidationError{Field: "uri", Message: "Namespace must be an absolute IRI", Value: p.URI})
	}
	return result(errs)
}
