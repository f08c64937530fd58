package rule

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	validateOnce sync.Once
	structs      *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		structs = validator.New(validator.WithRequiredStructEnabled())
	})
	return structs
}

// fileNamespace seeds the name-based IDs of rules authored in files.
var fileNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("obs-copilot/rules"))

// DeriveIDs gives rules, conditions and actions that have no ID one derived
// from the rule name and position, so the same file yields the same IDs on
// every load. A name repeated in the list is qualified by its index.
func DeriveIDs(rules []*Rule) {
	seen := make(map[string]bool, len(rules))
	for i, r := range rules {
		if r == nil {
			continue
		}
		if r.ID == "" {
			key := r.Name
			if seen[key] {
				key = fmt.Sprintf("%s#%d", r.Name, i)
			}
			seen[r.Name] = true
			r.ID = uuid.NewSHA1(fileNamespace, []byte(key)).String()
		}
		for j := range r.Conditions {
			if r.Conditions[j].ID == "" {
				r.Conditions[j].ID = fmt.Sprintf("%s/c%d", r.ID, j+1)
			}
		}
		for j := range r.Actions {
			if r.Actions[j].ID == "" {
				r.Actions[j].ID = fmt.Sprintf("%s/a%d", r.ID, j+1)
			}
		}
	}
}

// Normalize fills in IDs and CreatedAt on rules, conditions and actions that
// were authored without them.
func Normalize(rules []*Rule, now time.Time) {
	for _, r := range rules {
		if r == nil {
			continue
		}
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		for i := range r.Conditions {
			if r.Conditions[i].ID == "" {
				r.Conditions[i].ID = uuid.NewString()
			}
		}
		for i := range r.Actions {
			if r.Actions[i].ID == "" {
				r.Actions[i].ID = uuid.NewString()
			}
		}
	}
}

// Validate checks the rule set for:
//   - struct-level problems (missing names, unknown types and operators)
//   - duplicate rule IDs, and duplicate condition/action IDs within a rule
//   - action payloads that cannot be decoded for their type
//
// All problems are reported together.
func Validate(rules []*Rule) error {
	var errs []string
	seen := make(map[string]int)

	for i, r := range rules {
		loc := fmt.Sprintf("rules[%d]", i)
		if r == nil {
			errs = append(errs, (&ValidationError{Field: loc, Message: "rule cannot be nil"}).Error())
			continue
		}
		if r.ID != "" {
			loc = fmt.Sprintf("rule %s", r.ID)
			if prev, ok := seen[r.ID]; ok {
				errs = append(errs, fmt.Sprintf("duplicate rule id %q (rules[%d] and rules[%d])", r.ID, prev, i))
			} else {
				seen[r.ID] = i
			}
		}

		if err := structValidator().Struct(r); err != nil {
			var verrs validator.ValidationErrors
			if errors.As(err, &verrs) {
				for _, fe := range verrs {
					errs = append(errs, (&ValidationError{Field: loc + ": " + fieldPath(fe), Message: describe(fe)}).Error())
				}
			} else {
				errs = append(errs, fmt.Sprintf("%s: %v", loc, err))
			}
		}

		ids := make(map[string]string)
		for j, c := range r.Conditions {
			if c.ID == "" {
				continue
			}
			if prev, ok := ids[c.ID]; ok {
				errs = append(errs, fmt.Sprintf("%s: duplicate id %q (first seen at %s, again at conditions[%d])", loc, c.ID, prev, j))
			} else {
				ids[c.ID] = fmt.Sprintf("conditions[%d]", j)
			}
		}
		for j, a := range r.Actions {
			if a.ID != "" {
				if prev, ok := ids[a.ID]; ok {
					errs = append(errs, fmt.Sprintf("%s: duplicate id %q (first seen at %s, again at actions[%d])", loc, a.ID, prev, j))
				} else {
					ids[a.ID] = fmt.Sprintf("actions[%d]", j)
				}
			}
			if err := decodable(a); err != nil {
				errs = append(errs, (&ValidationError{Field: fmt.Sprintf("%s: actions[%d].data", loc, j), Message: err.Error()}).Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("rule validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func decodable(a Action) error {
	switch a.Type {
	case ActionOBS:
		_, err := a.ObsAction()
		return err
	case ActionStreamerBot:
		_, err := a.StreamerBotAction()
		return err
	}
	// Unknown types are reported by the struct validator.
	return nil
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must have at least %s entries", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
