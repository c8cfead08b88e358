package promptvault

import (
	"fmt"
	"slices"
	"strings"
)

// Environment is a deployment stage. Stages are totally ordered: dev, qa, staging, prod.
type Environment string

// Deployment stages in promotion order.
const (
	EnvDev     Environment = "dev"
	EnvQA      Environment = "qa"
	EnvStaging Environment = "staging"
	EnvProd    Environment = "prod"
)

var environmentOrder = [...]Environment{EnvDev, EnvQA, EnvStaging, EnvProd}

// Environments returns all stages in promotion order.
func Environments() []Environment {
	return slices.Clone(environmentOrder[:])
}

// ParseEnvironment converts s (case-insensitive) to an Environment.
func ParseEnvironment(s string) (Environment, error) {
	e := Environment(strings.ToLower(strings.TrimSpace(s)))
	if !e.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidEnvironment, s)
	}
	return e, nil
}

// Index returns the position of e in promotion order, or -1 for an unknown stage.
func (e Environment) Index() int {
	return slices.Index(environmentOrder[:], e)
}

// Valid reports whether e is one of the four stages.
func (e Environment) Valid() bool { return e.Index() >= 0 }

// Terminal reports whether e has no successor.
func (e Environment) Terminal() bool { return e == environmentOrder[len(environmentOrder)-1] }

// Next returns the strict successor of e. ok is false for prod and for unknown stages.
func (e Environment) Next() (next Environment, ok bool) {
	i := e.Index()
	if i < 0 || i == len(environmentOrder)-1 {
		return "", false
	}
	return environmentOrder[i+1], true
}

// String implements fmt.Stringer.
func (e Environment) String() string { return string(e) }
