// Package pricing provides fare policies that can be handed to the ride
// engine when a ride is completed.
package pricing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/example/ridedispatch/internal/ride/domain"
)

// ErrUnknownPolicy indicates a catalog lookup for a name that was never added.
var ErrUnknownPolicy = errors.New("unknown fare policy")

// Linear charges a base amount plus a per-kilometre rate.
func Linear(base, perUnit float64) domain.FarePolicy {
	return func(distance float64) float64 {
		return base + perUnit*distance
	}
}

// Flat charges the same amount regardless of distance.
func Flat(amount float64) domain.FarePolicy {
	return func(float64) float64 {
		return amount
	}
}

// Surge scales another policy by multiplier.
func Surge(policy domain.FarePolicy, multiplier float64) domain.FarePolicy {
	return func(distance float64) float64 {
		return policy(distance) * multiplier
	}
}

// Minimum never charges less than floor.
func Minimum(policy domain.FarePolicy, floor float64) domain.FarePolicy {
	return func(distance float64) float64 {
		if fare := policy(distance); fare > floor {
			return fare
		}
		return floor
	}
}

// Catalog holds named policies selectable at completion time.
type Catalog struct {
	policies    map[string]domain.FarePolicy
	defaultName string
}

// NewCatalog constructs a catalog whose default is the named policy.
func NewCatalog(defaultName string, policy domain.FarePolicy) *Catalog {
	c := &Catalog{policies: make(map[string]domain.FarePolicy), defaultName: defaultName}
	c.Add(defaultName, policy)
	return c
}

// Add registers or replaces a named policy.
func (c *Catalog) Add(name string, policy domain.FarePolicy) {
	c.policies[name] = policy
}

// Lookup returns the named policy; an empty name selects the default.
func (c *Catalog) Lookup(name string) (domain.FarePolicy, error) {
	if name == "" {
		name = c.defaultName
	}
	policy, ok := c.policies[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPolicy, name)
	}
	return policy, nil
}

// Default returns the default policy.
func (c *Catalog) Default() domain.FarePolicy {
	return c.policies[c.defaultName]
}

// Names lists the registered policy names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.policies))
	for name := range c.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Config carries the rates used to build the standard catalog.
type Config struct {
	Base            float64
	PerKM           float64
	FlatAmount      float64
	SurgeMultiplier float64
	MinimumFare     float64
}

// StandardCatalog builds the linear, flat and surge policies, each bounded by
// the configured minimum fare. Linear is the default.
func StandardCatalog(cfg Config) *Catalog {
	linear := Minimum(Linear(cfg.Base, cfg.PerKM), cfg.MinimumFare)
	c := NewCatalog("linear", linear)
	c.Add("flat", Minimum(Flat(cfg.FlatAmount), cfg.MinimumFare))
	multiplier := cfg.SurgeMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	c.Add("surge", Surge(linear, multiplier))
	return c
}
