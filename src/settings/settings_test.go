package settings

import (
	"testing"
	"time"
)

var base = Values{
	"a": 1,
	"b": 2,
}

func TestEmptyResolver(t *testing.T) {
	r := New(nil)

	if v := r.Get("a"); v != nil {
		t.Fatalf("Get(a) on empty resolver should be nil, not %v", v)
	}
}

func TestBaseSettings(t *testing.T) {
	r := New(base)

	if v := r.GetInt("a"); v != 1 {
		t.Fatalf("a should be 1, not %d", v)
	}
	if v := r.GetInt("b"); v != 2 {
		t.Fatalf("b should be 2, not %d", v)
	}
	if v := r.Get("c"); v != nil {
		t.Fatalf("c should be nil, not %v", v)
	}
}

func TestScopedOverride(t *testing.T) {
	r := New(base)
	r.AddScoped(Scoped{ID: "test", Values: Values{"b": 3}})

	// a is never overridden
	for _, ids := range [][]string{nil, {"wrong"}, {"test"}, {"wrong", "test"}} {
		if v := r.GetInt("a", ids...); v != 1 {
			t.Fatalf("a with ids %v should be 1, not %d", ids, v)
		}
	}

	if v := r.GetInt("b"); v != 2 {
		t.Fatalf("b should be 2, not %d", v)
	}
	if v := r.GetInt("b", "wrong"); v != 2 {
		t.Fatalf("b with unknown id should be 2, not %d", v)
	}
	if v := r.GetInt("b", "test"); v != 3 {
		t.Fatalf("b with id test should be 3, not %d", v)
	}
	if v := r.GetInt("b", "test", "wrong"); v != 3 {
		t.Fatalf("b with ids [test wrong] should be 3, not %d", v)
	}
}

func TestLastIDWins(t *testing.T) {
	r := New(base)
	r.AddScoped(
		Scoped{ID: "magic", Values: Values{"b": 3}},
		Scoped{ID: "test", Values: Values{"b": 4}},
	)

	if v := r.GetInt("b", "magic"); v != 3 {
		t.Fatalf("b with id magic should be 3, not %d", v)
	}
	if v := r.GetInt("b", "test"); v != 4 {
		t.Fatalf("b with id test should be 4, not %d", v)
	}
	// ids are in ascending priority; the last one wins
	if v := r.GetInt("b", "test", "magic"); v != 3 {
		t.Fatalf("b with ids [test magic] should be 3, not %d", v)
	}
	if v := r.GetInt("b", "magic", "test"); v != 4 {
		t.Fatalf("b with ids [magic test] should be 4, not %d", v)
	}
}

func TestUntaggedOverridesIgnored(t *testing.T) {
	r := New(base)
	r.AddScoped(
		Scoped{Values: Values{"bad": 1}},
		Scoped{ID: "test", Values: Values{"b": 5}},
		Scoped{Values: Values{"a": 6, "b": 7}},
	)

	if len(r.scoped) != 1 {
		t.Fatalf("only the tagged override set should register, got %d", len(r.scoped))
	}
	if v := r.GetInt("b", "test"); v != 5 {
		t.Fatalf("b with id test should be 5, not %d", v)
	}
}

func TestTypedAccessors(t *testing.T) {
	r := New(Values{
		"balancePoint":           0.5,
		"maxTransactionSize":     "100000",
		"minTimeBetweenPayments": "10m",
		"limitsPeriod":           "1d",
		"useRollingLimitsPeriod": true,
		"refreshRate":            30,
	})

	if v := r.GetFloat("balancePoint"); v != 0.5 {
		t.Fatalf("balancePoint should be 0.5, not %v", v)
	}
	if v := r.GetDecimal("maxTransactionSize"); v.String() != "100000" {
		t.Fatalf("maxTransactionSize should be 100000, not %s", v)
	}
	if v := r.GetDuration("minTimeBetweenPayments"); v != 10*time.Minute {
		t.Fatalf("minTimeBetweenPayments should be 10m, not %v", v)
	}
	if v := r.GetDuration("limitsPeriod"); v != 24*time.Hour {
		t.Fatalf("limitsPeriod should be 1d, not %v", v)
	}
	if !r.GetBool("useRollingLimitsPeriod") {
		t.Fatal("useRollingLimitsPeriod should be true")
	}
	if v := r.GetInt("refreshRate"); v != 30 {
		t.Fatalf("refreshRate should be 30, not %d", v)
	}
}
