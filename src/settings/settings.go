// Package settings implements the cascading configuration lookup that
// parameterises the rebalance engine. A resolver holds a base set of values
// plus any number of id-scoped override sets (a node alias or a channel id).
// Lookups supply ids in ascending priority: later ids override earlier ones,
// which override the base.
package settings

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/taut-ln/taut/src/common"
)

// Values is one flat set of named settings.
type Values map[string]interface{}

// Scoped is a set of overrides that only applies when its ID is supplied to
// Get.
type Scoped struct {
	ID     string
	Values Values
}

// Resolver resolves settings through the base/override cascade. It is
// populated once at startup and safe for concurrent reads afterwards.
type Resolver struct {
	base   Values
	scoped []Scoped
}

// New returns a Resolver over the given base settings.
func New(base Values) *Resolver {
	if base == nil {
		base = Values{}
	}
	return &Resolver{base: base}
}

// AddScoped registers id-scoped override sets. Entries without an id cannot
// be addressed and are ignored.
func (r *Resolver) AddScoped(items ...Scoped) {
	for _, item := range items {
		if item.ID == "" {
			continue
		}
		r.scoped = append(r.scoped, item)
	}
}

// Get returns the value of a setting, resolved through the cascade. The ids
// are in ascending priority. A missing name or unknown id is not an error;
// the result is simply nil when nothing in the cascade defines the name.
func (r *Resolver) Get(name string, ids ...string) interface{} {
	value, ok := r.base[name]

	for _, id := range ids {
		for _, item := range r.scoped {
			if item.ID != id {
				continue
			}
			if v, found := item.Values[name]; found {
				value, ok = v, true
			}
		}
	}

	if !ok {
		return nil
	}
	return value
}

// GetFloat resolves a setting as a float64, or 0 when unset or unparseable.
func (r *Resolver) GetFloat(name string, ids ...string) float64 {
	switch v := r.Get(name, ids...).(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		f, _ := v.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

// GetInt resolves a setting as an int, or 0 when unset or unparseable.
func (r *Resolver) GetInt(name string, ids ...string) int {
	return int(r.GetFloat(name, ids...))
}

// GetBool resolves a setting as a bool; anything but an explicit true is
// false.
func (r *Resolver) GetBool(name string, ids ...string) bool {
	switch v := r.Get(name, ids...).(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// GetDecimal resolves a setting as an arbitrary-precision decimal, or zero
// when unset. Amounts are financial; they never pass through a float when
// the configured value is a string or integer.
func (r *Resolver) GetDecimal(name string, ids ...string) decimal.Decimal {
	switch v := r.Get(name, ids...).(type) {
	case string:
		d, err := decimal.NewFromString(v)
		if err == nil {
			return d
		}
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err == nil {
			return d
		}
	case int:
		return decimal.NewFromInt(int64(v))
	case int64:
		return decimal.NewFromInt(v)
	case float64:
		return decimal.NewFromFloat(v)
	}
	return decimal.Zero
}

// GetDuration resolves a duration-valued setting. Strings use the
// "1234"/"90s"/"15m"/"4h"/"1d" grammar; bare numbers are milliseconds.
func (r *Resolver) GetDuration(name string, ids ...string) time.Duration {
	switch v := r.Get(name, ids...).(type) {
	case string:
		return common.ParseDuration(v)
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v) * time.Millisecond
	case json.Number:
		return common.ParseDuration(v.String())
	}
	return 0
}
