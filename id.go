package promptvault

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// maxNameSlug is the rune limit of the name segment of a prompt id.
	maxNameSlug = 30
	maxIDLength = 256
)

var (
	idPattern      = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
	segmentPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_]*$`)
)

// NameSlug lower-cases name, replaces spaces with underscores and keeps at most 30 runes.
func NameSlug(name string) string {
	s := strings.ReplaceAll(strings.ToLower(name), " ", "_")
	if r := []rune(s); len(r) > maxNameSlug {
		s = string(r[:maxNameSlug])
	}
	return s
}

// BaseID returns the environment-independent part of a prompt id: {agent_type}_{domain}_{name_slug}.
func BaseID(agentType, domain, name string) string {
	return agentType + "_" + domain + "_" + NameSlug(name)
}

// PromptID derives the record key for (agent_type, domain, name, environment).
// Example: PromptID("dfcx", "billing", "Payment Query", EnvDev) == "dfcx_billing_payment_query_dev".
func PromptID(agentType, domain, name string, env Environment) string {
	return BaseID(agentType, domain, name) + "_" + string(env)
}

// SplitEnvironment splits a prompt id into its base and environment suffix.
// ok is false when id does not end in a known environment.
func SplitEnvironment(id string) (base string, env Environment, ok bool) {
	for _, e := range environmentOrder {
		if suffix := "_" + string(e); strings.HasSuffix(id, suffix) && len(id) > len(suffix) {
			return strings.TrimSuffix(id, suffix), e, true
		}
	}
	return id, "", false
}

// ValidateID checks that id is usable as a record key, file name fragment and SQL value.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidID, maxIDLength)
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// ValidateIdentity checks the identity fields of a prompt.
// domain and agent_type are lower-case identifiers; name must produce a usable slug.
func ValidateIdentity(name, domain, agentType string) error {
	if !segmentPattern.MatchString(domain) {
		return fmt.Errorf("%w: invalid domain %q", ErrInvalidDraft, domain)
	}
	if !segmentPattern.MatchString(agentType) {
		return fmt.Errorf("%w: invalid agent_type %q", ErrInvalidDraft, agentType)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDraft)
	}
	if err := ValidateID(BaseID(agentType, domain, name)); err != nil {
		return fmt.Errorf("%w: name %q: %w", ErrInvalidDraft, name, err)
	}
	return nil
}
