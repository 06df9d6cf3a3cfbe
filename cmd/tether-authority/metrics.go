package main

import "expvar"

// expvarMetrics publishes world counters under /debug/vars
type expvarMetrics struct {
	vars *expvar.Map
}

func newExpvarMetrics(name string) *expvarMetrics {
	return &expvarMetrics{vars: expvar.NewMap(name)}
}

func (m *expvarMetrics) Add(key string, delta uint64) {
	m.vars.Add(key, int64(delta))
}

func (m *expvarMetrics) Store(key string, value uint64) {
	v := new(expvar.Int)
	v.Set(int64(value))
	m.vars.Set(key, v)
}
