// Package manager owns the single resident diffusion pipeline and runs
// generations against it. It is structured into small files by concern:
//
//   - manager.go: core Manager type, constructor, model listing.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: internal state types (State, ModelInfo, Snapshot).
//   - errors.go: typed errors and predicates (IsNoPipeline, IsResourceExhausted, IsInferenceError).
//   - admission.go: the exclusive slot shared by load, swap, generate and recover.
//   - ensure.go: EnsureLoaded/SwitchTo and the load path.
//   - unload.go: releasing the resident pipeline.
//   - scheduler.go: solver selection by step count.
//   - generate.go: the generation path and image persistence.
//   - recover.go: emergency memory release.
//   - status_report.go: Status/Snapshot/Health reporting helpers.
//   - events.go, eventpub_memory.go: lifecycle event publishing.
//
// At most one pipeline is resident. Every operation that touches the pipeline
// or device memory holds the slot, so a swap can never interleave with a
// running generation. Reporting methods only take the bookkeeping lock.
package manager
