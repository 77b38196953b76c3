package channels

import (
	"errors"
	"fmt"
	"strings"
)

// Channel types.
const (
	Email     = "email"
	Telegram  = "telegram"
	Slack     = "slack"
	Webhook   = "webhook"
	PagerDuty = "pagerduty"
)

// Validation error codes.
const (
	CodeUnknownChannel   = "unknown_channel"
	CodeTargetRequired   = "target_required"
	CodeInvalidTarget    = "invalid_target"
	CodeMetadataRequired = "metadata_required"
	CodeInvalidMetadata  = "invalid_metadata"
)

// ErrUnknownChannel is wrapped by the ValidationError returned for an
// unregistered channel type.
var ErrUnknownChannel = errors.New("unknown channel type")

// ValidationError describes why a channel payload was rejected.
type ValidationError struct {
	Channel string
	Code    string
	Message string
	Invalid []string

	err error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return e.err }

// MetadataRule is the ordered rule list for one metadata key.
type MetadataRule struct {
	Key   string
	Rules []Validator
}

// Definition declares how one channel type is validated.
type Definition struct {
	Type           string
	RequiresTarget bool
	TargetRules    []Validator
	MetadataRules  []MetadataRule
}

// Registry is an immutable set of channel definitions.
type Registry struct {
	defs  map[string]Definition
	order []string
}

// NewRegistry builds a registry from defs. Later definitions replace
// earlier ones of the same type.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		t := strings.ToLower(d.Type)
		if _, seen := r.defs[t]; !seen {
			r.order = append(r.order, t)
		}
		r.defs[t] = d
	}
	return r
}

// DefaultRegistry returns the built-in channel table.
func DefaultRegistry() *Registry {
	return NewRegistry(
		Definition{
			Type:           Email,
			RequiresTarget: true,
			TargetRules: []Validator{
				Required{Message: "at least one email address is required"},
				NewRegex(`^[^@\s]+@[^@\s]+\.[^@\s]+$`, "", true, "invalid email address(es): {invalid}"),
			},
			MetadataRules: []MetadataRule{
				{Key: "subject", Rules: []Validator{Optional{}, MinLength{N: 3, Message: "subject must be at least 3 characters"}}},
			},
		},
		Definition{
			Type:           Telegram,
			RequiresTarget: true,
			TargetRules: []Validator{
				Required{Message: "at least one telegram chat id is required"},
				NewRegex(`^(-?\d{5,}|@[A-Za-z][A-Za-z0-9_]{4,})$`, "", true, "invalid telegram chat id(s): {invalid}"),
			},
			MetadataRules: []MetadataRule{
				{Key: "bot_token", Rules: []Validator{Optional{}, NewRegex(`^\d+:[A-Za-z0-9_-]{30,}$`, "", false, "bot_token is malformed")}},
				{Key: "parse_mode", Rules: []Validator{Optional{}, Enum{Values: []string{"Markdown", "MarkdownV2", "HTML"}, Message: "parse_mode must be one of Markdown, MarkdownV2, HTML"}}},
			},
		},
		Definition{
			Type:           Slack,
			RequiresTarget: true,
			TargetRules: []Validator{
				Required{Message: "a slack incoming webhook URL is required"},
				NewRegex(`^https://hooks\.slack\.com/services/\S+$`, "i", false, "invalid slack webhook URL: {invalid}"),
			},
			MetadataRules: []MetadataRule{
				{Key: "channel", Rules: []Validator{Optional{}, NewRegex(`^[#@]?[a-z0-9][a-z0-9._-]*$`, "i", false, "channel must look like #name: {invalid}")}},
				{Key: "username", Rules: []Validator{Optional{}, MinLength{N: 2, Message: "username must be at least 2 characters"}}},
			},
		},
		Definition{
			Type:           Webhook,
			RequiresTarget: true,
			TargetRules: []Validator{
				Required{Message: "a webhook URL is required"},
				NewRegex(`^https?://[^\s/$.?#][^\s]*$`, "i", true, "invalid webhook URL(s): {invalid}"),
			},
			MetadataRules: []MetadataRule{
				{Key: "secret", Rules: []Validator{Optional{}, MinLength{N: 16, Message: "secret must be at least 16 characters"}}},
				{Key: "method", Rules: []Validator{Optional{}, Enum{Values: []string{"POST", "PUT"}, Message: "method must be POST or PUT"}}},
			},
		},
		Definition{
			Type:           PagerDuty,
			RequiresTarget: false,
			MetadataRules: []MetadataRule{
				{Key: "routing_key", Rules: []Validator{
					Required{Message: "routing_key is required"},
					NewRegex(`^[A-Za-z0-9]{32}$`, "", false, "routing_key must be a 32-character integration key"),
				}},
				{Key: "severity", Rules: []Validator{Optional{}, Enum{Values: []string{"critical", "error", "warning", "info"}, Message: "severity must be one of critical, error, warning, info"}}},
			},
		},
	)
}

var defaultRegistry = DefaultRegistry()

// ValidateChannelPayload validates against the built-in table.
func ValidateChannelPayload(channelType string, targets []string, metadata map[string]any) (map[string]any, error) {
	return defaultRegistry.Validate(channelType, targets, metadata)
}

// Types lists registered channel types in declaration order.
func (r *Registry) Types() []string {
	return append([]string(nil), r.order...)
}

// Lookup returns the definition for channelType.
func (r *Registry) Lookup(channelType string) (Definition, bool) {
	d, ok := r.defs[strings.ToLower(strings.TrimSpace(channelType))]
	return d, ok
}

// Validate checks targets (already trimmed and deduplicated) and metadata
// for channelType and returns the metadata with empty values stripped.
func (r *Registry) Validate(channelType string, targets []string, metadata map[string]any) (map[string]any, error) {
	def, ok := r.Lookup(channelType)
	if !ok {
		return nil, &ValidationError{
			Channel: channelType,
			Code:    CodeUnknownChannel,
			Message: fmt.Sprintf("unsupported channel type %q", channelType),
			err:     ErrUnknownChannel,
		}
	}

	if err := validateTargets(def, targets); err != nil {
		return nil, err
	}

	sanitized := sanitize(metadata)
	for _, mr := range def.MetadataRules {
		if err := validateMetadata(def.Type, mr, sanitized); err != nil {
			return nil, err
		}
	}
	return sanitized, nil
}

func validateTargets(def Definition, targets []string) error {
	fail := func(code, msg string, invalid []string) error {
		return &ValidationError{Channel: def.Type, Code: code, Message: render(msg, invalid), Invalid: invalid}
	}

rules:
	for _, rule := range def.TargetRules {
		switch v := rule.(type) {
		case Required:
			if len(targets) == 0 {
				return fail(CodeTargetRequired, v.Message, nil)
			}
		case Optional:
			if len(targets) == 0 {
				break rules
			}
		case Regex:
			if invalid := collect(targets, v.CollectInvalid, v.match); len(invalid) > 0 {
				return fail(CodeInvalidTarget, v.Message, invalid)
			}
		case MinLength:
			long := func(t string) bool { return len([]rune(t)) >= v.N }
			if invalid := collect(targets, v.CollectInvalid, long); len(invalid) > 0 {
				return fail(CodeInvalidTarget, v.Message, invalid)
			}
		case Enum:
			allowed := func(t string) bool { _, ok := v.canonical(t); return ok }
			if invalid := collect(targets, v.CollectInvalid, allowed); len(invalid) > 0 {
				return fail(CodeInvalidTarget, v.Message, invalid)
			}
		}
	}

	if def.RequiresTarget && len(targets) == 0 {
		return fail(CodeTargetRequired, def.Type+" channel requires at least one target", nil)
	}
	return nil
}

// collect returns the targets failing ok: all of them when all is set,
// otherwise at most the first.
func collect(targets []string, all bool, ok func(string) bool) []string {
	var invalid []string
	for _, t := range targets {
		if ok(t) {
			continue
		}
		invalid = append(invalid, t)
		if !all {
			break
		}
	}
	return invalid
}

// validateMetadata runs one key's rules, rewriting enum values in meta to
// their canonical spelling.
func validateMetadata(channel string, mr MetadataRule, meta map[string]any) error {
	raw, present := meta[mr.Key]
	str, isString := raw.(string)
	empty := !present

	fail := func(code, msg string, invalid []string) error {
		return &ValidationError{Channel: channel, Code: code, Message: render(msg, invalid), Invalid: invalid}
	}

	for _, rule := range mr.Rules {
		switch v := rule.(type) {
		case Required:
			if empty {
				return fail(CodeMetadataRequired, v.Message, nil)
			}
			continue
		case Optional:
			if empty {
				return nil
			}
			continue
		}

		if empty {
			continue
		}
		if !isString {
			return fail(CodeInvalidMetadata, mr.Key+" must be a string", nil)
		}

		switch v := rule.(type) {
		case Regex:
			if !v.match(str) {
				return fail(CodeInvalidMetadata, v.Message, []string{str})
			}
		case MinLength:
			if len([]rune(str)) < v.N {
				return fail(CodeInvalidMetadata, v.Message, nil)
			}
		case Enum:
			canon, ok := v.canonical(str)
			if !ok {
				return fail(CodeInvalidMetadata, v.Message, []string{str})
			}
			meta[mr.Key] = canon
		}
	}
	return nil
}

// sanitize copies metadata, trimming strings and dropping nil or blank
// values.
func sanitize(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		switch val := v.(type) {
		case nil:
			continue
		case string:
			if t := strings.TrimSpace(val); t != "" {
				out[k] = t
			}
		default:
			out[k] = v
		}
	}
	return out
}

// NormalizeTargets merges a single target with a target list, trimming and
// dropping blanks and repeats while keeping first-seen order.
func NormalizeTargets(target string, targets []string) []string {
	out := make([]string, 0, len(targets)+1)
	seen := make(map[string]struct{}, len(targets)+1)
	for _, t := range append([]string{target}, targets...) {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
