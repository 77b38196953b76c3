package services

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-alerts-backend/internal/alerting/compiler"
	"github.com/tbourn/go-alerts-backend/internal/domain"
)

// messageData is the value custom templates are executed against.
type messageData struct {
	Rule          string
	RuleID        string
	Source        string
	SourceLabel   string
	Count         int
	WindowMinutes int
	Latest        compiler.Event
	Events        []compiler.Event
}

// renderer builds notification text. Casers are stateful, so one is made
// per call.
type renderer struct {
	tag language.Tag
}

func (r renderer) data(rule *domain.AlertRule, plan compiler.Plan, events []compiler.Event) messageData {
	d := messageData{
		Rule:          rule.Name,
		RuleID:        rule.ID,
		Source:        plan.Source,
		SourceLabel:   cases.Title(r.tag).String(plan.Source),
		Count:         len(events),
		WindowMinutes: plan.WindowMinutes,
		Events:        events,
	}
	if len(events) > 0 {
		d.Latest = events[0]
	}
	return d
}

// subject is the notification title used by channels that carry one.
func (r renderer) subject(d messageData) string {
	return fmt.Sprintf("[%s alert] %s", d.SourceLabel, d.Rule)
}

// message renders tmpl against d. An empty template yields the built-in
// message; a template that fails to parse or execute yields the generic
// per-source message.
func (r renderer) message(tmpl string, d messageData) string {
	if strings.TrimSpace(tmpl) == "" {
		return r.builtin(d)
	}
	out, err := execTemplate(tmpl, d)
	if err != nil || strings.TrimSpace(out) == "" {
		return r.generic(d)
	}
	return out
}

func execTemplate(tmpl string, d messageData) (string, error) {
	t, err := template.New("alert").Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, d); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// checkTemplate reports template syntax errors at save time.
func checkTemplate(tmpl string) error {
	if strings.TrimSpace(tmpl) == "" {
		return nil
	}
	_, err := template.New("alert").Parse(tmpl)
	return err
}

func (r renderer) generic(d messageData) string {
	noun := "match"
	if d.Count != 1 {
		noun = "matches"
	}
	return fmt.Sprintf("%s alert %q: %d new %s in the last %d minutes.", d.SourceLabel, d.Rule, d.Count, noun, d.WindowMinutes)
}

func (r renderer) builtin(d messageData) string {
	e := d.Latest
	str := func(k string) string {
		s, _ := e[k].(string)
		return strings.TrimSpace(s)
	}

	var lead string
	switch d.Source {
	case domain.SourceNews:
		lead = str("headline")
		if t := str("ticker"); t != "" {
			lead = t + ": " + lead
		}
	default:
		lead = str("title")
		if lead == "" {
			lead = str("report_name")
		}
		if c := str("company_name"); c != "" {
			lead = c + " filed " + lead
		}
	}
	if strings.TrimSpace(lead) == "" {
		return r.generic(d)
	}

	msg := fmt.Sprintf("%s alert %q: %s", d.SourceLabel, d.Rule, lead)
	if d.Count > 1 {
		msg += fmt.Sprintf(" (+%d more)", d.Count-1)
	}
	if u := str("url"); u != "" {
		msg += "\n" + u
	}
	return msg
}
