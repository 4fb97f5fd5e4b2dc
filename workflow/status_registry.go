package workflow

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"unicode"

	"gopkg.in/yaml.v3"
)

// statusSynonyms lists every spelling seen in stored data for each canonical
// status. Keys are normalised with normalizeStatusKey before lookup.
var statusSynonyms = map[Status][]string{
	StatusPending: {
		"pending",
		"submitted",
		"under-review",
		"awaiting-review",
		"new",
	},
	StatusDoctorApproved: {
		"doctor-approved",
		"approved-by-doctor",
		"doctor-recommended",
	},
	StatusAdminApproved: {
		"admin-approved",
		"approved",
		"accepted",
	},
	StatusRejected: {
		"rejected",
		"declined",
		"doctor-rejected",
		"admin-rejected",
	},
	StatusInitialDoctorApproved: {
		"initial-doctor-approved",
		"initial-approved-by-doctor",
	},
	StatusPendingInitialAdminApproval: {
		"pending-initial-admin-approval",
		"pending-admin-approval",
		"awaiting-initial-admin-approval",
	},
	StatusInitiallyApproved: {
		"initially-approved",
		"initial-admin-approved",
		"initial-approved",
	},
	StatusMedicalEvaluationInProgress: {
		"medical-evaluation-in-progress",
		"medical-evaluation",
		"evaluation-in-progress",
		"in-evaluation",
	},
	StatusMedicalEvaluationCompleted: {
		"medical-evaluation-completed",
		"evaluation-completed",
		"evaluation-complete",
	},
	StatusPendingFinalAdminReview: {
		"pending-final-admin-review",
		"pending-final-review",
		"final-review",
	},
	StatusFinalAdminApproved: {
		"final-admin-approved",
		"final-approved",
		"fully-approved",
	},
	StatusInitialDoctorRejected: {
		"initial-doctor-rejected",
	},
	StatusInitialAdminRejected: {
		"initial-admin-rejected",
	},
	StatusFinalAdminRejected: {
		"final-admin-rejected",
		"final-rejected",
	},
}

// Legacy rows sometimes carry the other pipeline's spelling of an equivalent
// status. Only these pairs are considered equivalent.
var crossPipeline = map[Role]map[Status]Status{
	RoleDonor: {
		StatusAdminApproved:  StatusFinalAdminApproved,
		StatusDoctorApproved: StatusInitialDoctorApproved,
	},
	RoleRecipient: {
		StatusFinalAdminApproved:    StatusAdminApproved,
		StatusInitialDoctorApproved: StatusDoctorApproved,
	},
}

// Registry resolves raw status strings into canonical statuses.
type Registry struct {
	mu      sync.RWMutex
	aliases map[string]Status
}

var builtin = NewRegistry()

// NewRegistry returns a registry holding the built-in alias table.
func NewRegistry() *Registry {
	r := &Registry{aliases: make(map[string]Status)}
	for canonical, synonyms := range statusSynonyms {
		r.aliases[normalizeStatusKey(string(canonical))] = canonical
		for _, alias := range synonyms {
			if key := normalizeStatusKey(alias); key != "" {
				r.aliases[key] = canonical
			}
		}
	}
	return r
}

// ResolveStatus resolves raw against the built-in alias table.
func ResolveStatus(raw string) (Status, error) {
	return builtin.Resolve(raw)
}

// ResolveStatusFor resolves raw against the built-in alias table for a case
// owned by role.
func ResolveStatusFor(role Role, raw string) (Status, error) {
	return builtin.ResolveFor(role, raw)
}

// Resolve maps any known spelling to its canonical status.
func (r *Registry) Resolve(raw string) (Status, error) {
	key := normalizeStatusKey(raw)
	if key == "" {
		return StatusNone, &UnknownStatusError{Raw: raw}
	}
	r.mu.RLock()
	status, ok := r.aliases[key]
	r.mu.RUnlock()
	if !ok {
		return StatusNone, &UnknownStatusError{Raw: raw}
	}
	return status, nil
}

// ResolveFor resolves raw and maps it into role's pipeline.
func (r *Registry) ResolveFor(role Role, raw string) (Status, error) {
	status, err := r.Resolve(raw)
	if err != nil {
		return StatusNone, &UnknownStatusError{Raw: raw, Role: role}
	}
	if InPipeline(role, status) {
		return status, nil
	}
	if mapped, ok := crossPipeline[role][status]; ok {
		return mapped, nil
	}
	return StatusNone, &UnknownStatusError{Raw: raw, Role: role}
}

// AddAlias registers alias as another spelling of canonical. Conflicting
// registrations are rejected.
func (r *Registry) AddAlias(alias string, canonical Status) error {
	key := normalizeStatusKey(alias)
	if key == "" {
		return fmt.Errorf("empty alias for %q", canonical)
	}
	if _, ok := statusSynonyms[canonical]; !ok {
		return &UnknownStatusError{Raw: string(canonical)}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.aliases[key]; ok && existing != canonical {
		return fmt.Errorf("alias %q already maps to %q", alias, existing)
	}
	r.aliases[key] = canonical
	return nil
}

// Aliases returns every known spelling for canonical, sorted.
func (r *Registry) Aliases(canonical Status) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0)
	for key, status := range r.aliases {
		if status == canonical {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

type aliasFile struct {
	Aliases map[string][]string `yaml:"aliases"`
}

// ParseAliases adds the aliases found in a YAML document of the form
//
//	aliases:
//	  final_admin_approved: ["cleared", "fully-cleared"]
//
// Keys must be canonical status names. The document is applied whole or
// not at all.
func (r *Registry) ParseAliases(data []byte) error {
	var doc aliasFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse status aliases: %w", err)
	}

	staged := make(map[string]Status)
	for rawCanonical, aliases := range doc.Aliases {
		canonical := Status(normalizeStatusKey(rawCanonical))
		if _, ok := statusSynonyms[canonical]; !ok {
			return fmt.Errorf("alias target: %w", &UnknownStatusError{Raw: rawCanonical})
		}
		for _, alias := range aliases {
			key := normalizeStatusKey(alias)
			if key == "" {
				return fmt.Errorf("empty alias for %q", canonical)
			}
			if existing, ok := staged[key]; ok && existing != canonical {
				return fmt.Errorf("alias %q listed for both %q and %q", alias, existing, canonical)
			}
			staged[key] = canonical
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, canonical := range staged {
		if existing, ok := r.aliases[key]; ok && existing != canonical {
			return fmt.Errorf("alias %q already maps to %q", key, existing)
		}
	}
	for key, canonical := range staged {
		r.aliases[key] = canonical
	}
	return nil
}

// LoadAliasFile reads extra aliases from a YAML file. An empty path is a no-op.
func (r *Registry) LoadAliasFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read status aliases: %w", err)
	}
	return r.ParseAliases(data)
}

// normalizeStatusKey folds the spellings found in stored data onto one key:
// "APPROVAL_STATUS.ADMIN_APPROVED", "AdminApproved" and "admin-approved" all
// become "admin_approved".
func normalizeStatusKey(raw string) string {
	s := strings.TrimSpace(raw)
	if idx := strings.LastIndex(s, "."); idx >= 0 {
		s = s[idx+1:]
	}
	if s == "" {
		return ""
	}

	var b strings.Builder
	runes := []rune(s)
	for i, ch := range runes {
		switch {
		case ch == '-' || ch == ' ' || ch == '_':
			b.WriteByte('_')
		case unicode.IsUpper(ch):
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(ch))
		default:
			b.WriteRune(ch)
		}
	}

	parts := strings.FieldsFunc(b.String(), func(r rune) bool { return r == '_' })
	return strings.Join(parts, "_")
}
