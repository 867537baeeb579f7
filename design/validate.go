package design

import (
	"time"

	orchestrator "github.com/getpup/metal-orchestrator"
)

// Level is the severity of a validation message.
type Level string

const (
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// DocRef points at the design document a message is about.
type DocRef struct {
	Kind string `json:"kind"`
	Name string `json:"name"`
}

// ValidationMessage is one finding of a validator.
type ValidationMessage struct {
	Msg        string   `json:"message"`
	Name       string   `json:"name"`
	Error      bool     `json:"error"`
	Level      Level    `json:"level"`
	Docs       []DocRef `json:"documents,omitempty"`
	Diagnostic string   `json:"diagnostic,omitempty"`
}

// ValidationStatus is the outcome of loading and validating a design.
type ValidationStatus struct {
	Status     orchestrator.ActionResult `json:"status"`
	Message    string                    `json:"message"`
	Reason     string                    `json:"reason"`
	ErrorCount int                       `json:"error_count"`
	Messages   []ValidationMessage       `json:"details"`
}

// NewValidationStatus returns an Incomplete status with no messages.
func NewValidationStatus() *ValidationStatus {
	return &ValidationStatus{
		Status:   orchestrator.ResultIncomplete,
		Messages: []ValidationMessage{},
	}
}

// Add appends m, counting it when it is an error.
func (s *ValidationStatus) Add(m ValidationMessage) {
	s.Messages = append(s.Messages, m)
	if m.Error {
		s.ErrorCount++
	}
}

// Succeeded reports whether the design loaded and passed validation.
func (s *ValidationStatus) Succeeded() bool {
	return s.Status == orchestrator.ResultSuccess
}

// ResultMessages converts the findings into task result messages.
func (s *ValidationStatus) ResultMessages() []orchestrator.ResultMessage {
	now := time.Now().UTC()
	out := make([]orchestrator.ResultMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		ctx := m.Name
		if ctx == "" {
			ctx = orchestrator.ContextNA
		}
		extra := map[string]any{"level": string(m.Level)}
		if m.Diagnostic != "" {
			extra["diagnostic"] = m.Diagnostic
		}
		if len(m.Docs) > 0 {
			extra["documents"] = m.Docs
		}
		out = append(out, orchestrator.ResultMessage{
			Msg:         m.Msg,
			Error:       m.Error,
			ContextType: orchestrator.ContextNA,
			Context:     ctx,
			Timestamp:   now,
			Extra:       extra,
		})
	}
	return out
}

// PlatformCatalog is implemented by node drivers that can list the images
// and kernels they deploy.
type PlatformCatalog interface {
	AvailableImages() ([]string, error)
	AvailableKernels(image string) ([]string, error)
}

// Validator checks an effective site.
type Validator struct {
	rules   []rule
	catalog PlatformCatalog
}

// NewValidator returns a validator running every built in rule. catalog may
// be nil.
func NewValidator(catalog PlatformCatalog) *Validator {
	return &Validator{rules: builtinRules(), catalog: catalog}
}

// Validate runs every rule against site and records the outcome on status.
func (v *Validator) Validate(site *EffectiveSite, status *ValidationStatus) {
	for _, r := range v.rules {
		rep := &report{name: r.name, longName: r.longName}
		r.run(site, v.catalog, rep)
		if rep.errors == 0 {
			rep.info("Validation successful.", nil, "")
		}
		for _, m := range rep.messages {
			status.Add(m)
		}
	}

	if status.ErrorCount > 0 {
		status.Status = orchestrator.ResultFailure
		status.Message = "Site design failed validation."
		status.Reason = "See detail messages."
		return
	}
	status.Status = orchestrator.ResultSuccess
	status.Message = "Site design passed validation"
}

type rule struct {
	name     string
	longName string
	run      func(site *EffectiveSite, catalog PlatformCatalog, r *report)
}

// report collects the messages of one rule run.
type report struct {
	name     string
	longName string
	messages []ValidationMessage
	errors   int
}

func (r *report) add(msg string, docs []DocRef, diagnostic string, isErr bool, level Level) {
	r.messages = append(r.messages, ValidationMessage{
		Msg:        r.longName + ": " + msg,
		Name:       r.name,
		Error:      isErr,
		Level:      level,
		Docs:       docs,
		Diagnostic: diagnostic,
	})
	if isErr {
		r.errors++
	}
}

func (r *report) error(msg string, docs []DocRef, diagnostic string) {
	r.add(msg, docs, diagnostic, true, LevelError)
}

func (r *report) warn(msg string, docs []DocRef, diagnostic string) {
	r.add(msg, docs, diagnostic, false, LevelWarn)
}

func (r *report) info(msg string, docs []DocRef, diagnostic string) {
	r.add(msg, docs, diagnostic, false, LevelInfo)
}

func nodeRef(n *BaremetalNode) []DocRef {
	return []DocRef{{Kind: KindBaremetalNode, Name: n.Name}}
}

func networkRef(n *Network) []DocRef {
	return []DocRef{{Kind: KindNetwork, Name: n.Name}}
}

func linkRef(l *NetworkLink) []DocRef {
	return []DocRef{{Kind: KindNetworkLink, Name: l.Name}}
}
