package manager

import "prunejuice/internal/engine"

// FastSolverMaxSteps is the largest step count served by the ancestral solver.
const FastSolverMaxSteps = 8

// SelectScheduler picks the solver for a run. Few-step runs (distilled
// "lightning" style models) need ancestral sampling with trailing timesteps;
// everything else uses multistep DPM with Karras sigmas. There is no override.
func SelectScheduler(steps int) engine.SchedulerConfig {
	if steps <= FastSolverMaxSteps {
		return engine.SchedulerConfig{Family: engine.SolverEulerAncestral, TimestepSpacing: "trailing"}
	}
	return engine.SchedulerConfig{Family: engine.SolverDPMMultistep, KarrasSigmas: true}
}
