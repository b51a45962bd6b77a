package cycle

// rollingWindowSize is JACK_ENGINE_ROLLING_COUNT: the number of recent
// per-cycle processing times jack_calc_cpu_load's rolling max is taken
// over. The constant lives in an engine header outside the filtered
// original_source retrieval pack; 32 is upstream JACK's value, carried
// unchanged.
const rollingWindowSize = 32

// recordCPUSample feeds one cycle's processing time into the rolling
// window and, every rollingInterval-th cycle, recomputes spare_usecs and
// cpu_load from it — per original_source/jackd/engine.c's
// jack_calc_cpu_load. Every cycle's usecs lands in the circular buffer
// regardless of cadence; only the max/spare_usecs/cpu_load recompute is
// gated, so a single slow cycle still shows up once it rotates under the
// rolling max even if it didn't land on a recompute boundary itself.
func (e *Executor) recordCPUSample(cycleUsecs int64, periodUsecs float64) {
	e.rollingUsecs[e.rollingIndex] = float64(cycleUsecs)
	e.rollingIndex++
	if e.rollingIndex >= rollingWindowSize {
		e.rollingIndex = 0
	}

	e.rollingCount++
	if e.rollingCount%e.rollingInterval() != 0 {
		return
	}

	var maxUsecs float64
	for _, v := range e.rollingUsecs {
		if v > maxUsecs {
			maxUsecs = v
		}
	}

	if maxUsecs < periodUsecs {
		e.spareUsecs = periodUsecs - maxUsecs
	} else {
		e.spareUsecs = 0
	}

	e.cpuLoad = (1-e.spareUsecs/periodUsecs)*50 + e.cpuLoad*0.5
	if e.metrics != nil {
		e.metrics.SetCPULoad(e.cpuLoad)
	}
}

// rollingInterval is engine->rolling_interval: the cycle count spanning
// cfg.RollingIntervalMs of wall-clock time at the configured period,
// computed the same way package driver's Adapter.Attach does (cycle
// can't import driver without an import cycle, so the formula is
// duplicated rather than shared). Guards against a zero or negative
// period by recomputing every cycle instead of panicking on the divide.
func (e *Executor) rollingInterval() int64 {
	if e.cfg.PeriodUsecs <= 0 {
		return 1
	}
	n := int64(float64(e.cfg.RollingIntervalMs) * 1000 / e.cfg.PeriodUsecs)
	if n < 1 {
		return 1
	}
	return n
}
