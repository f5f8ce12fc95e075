// Package engine provides the tick-based simulation loop and the step driver
// that moves vehicles across road tiles.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Default calendar. One tick is one vehicle step.
const (
	DefaultTicksPerDay  = 48
	DefaultDaysPerMonth = 30
	MonthsPerYear       = 12
)

// Engine drives the simulation forward.
type Engine struct {
	Tick         uint64        // Current tick counter (monotonic, never resets)
	Interval     time.Duration // Base tick interval
	TicksPerDay  uint64
	DaysPerMonth uint64

	mu      sync.Mutex
	speed   float64 // Multiplier: 1.0 = real-time, 0 = paused
	running bool

	// Callbacks for each tick layer, populated during setup.
	OnTick  func(tick uint64) // Every tick
	OnDay   func(tick uint64) // Every TicksPerDay ticks
	OnMonth func(tick uint64) // Every TicksPerDay*DaysPerMonth ticks
}

// NewEngine creates a simulation engine with default settings.
func NewEngine() *Engine {
	return &Engine{
		Interval:     200 * time.Millisecond,
		TicksPerDay:  DefaultTicksPerDay,
		DaysPerMonth: DefaultDaysPerMonth,
		speed:        1.0,
	}
}

// Speed returns the speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier. Zero or less pauses the loop.
func (e *Engine) SetSpeed(speed float64) {
	e.mu.Lock()
	e.speed = speed
	e.mu.Unlock()
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Run starts the simulation loop. Blocks until Stop is called or ctx ends.
func (e *Engine) Run(ctx context.Context) {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	slog.Info("simulation engine started", "tick", e.Tick, "speed", e.Speed())

	for e.Running() {
		if ctx.Err() != nil {
			break
		}
		speed := e.Speed()
		if speed <= 0 {
			// Paused, check again shortly.
			time.Sleep(100 * time.Millisecond)
			continue
		}

		start := time.Now()

		e.step()

		// Sleep for the remainder of the tick interval, adjusted for speed.
		elapsed := time.Since(start)
		target := time.Duration(float64(e.Interval) / speed)
		if elapsed < target {
			select {
			case <-ctx.Done():
			case <-time.After(target - elapsed):
			}
		}
	}

	e.Stop()
	slog.Info("simulation engine stopped", "tick", e.Tick)
}

// Stop halts the simulation loop.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

// StepN advances the simulation by n ticks without sleeping.
func (e *Engine) StepN(n int) {
	for i := 0; i < n; i++ {
		e.step()
	}
}

// TicksPerMonth returns the length of a month in ticks.
func (e *Engine) TicksPerMonth() uint64 {
	return e.TicksPerDay * e.DaysPerMonth
}

// step advances the simulation by one tick.
func (e *Engine) step() {
	e.Tick++

	if e.OnTick != nil {
		e.OnTick(e.Tick)
	}

	// Daily summaries.
	if e.TicksPerDay > 0 && e.Tick%e.TicksPerDay == 0 && e.OnDay != nil {
		e.OnDay(e.Tick)
	}

	// Statistics roll and stale reservation sweep.
	if m := e.TicksPerMonth(); m > 0 && e.Tick%m == 0 && e.OnMonth != nil {
		e.OnMonth(e.Tick)
	}
}

// SimTime returns a human-readable simulation date for a tick number.
func (e *Engine) SimTime(tick uint64) string {
	if e.TicksPerDay == 0 || e.DaysPerMonth == 0 {
		return fmt.Sprintf("tick %d", tick)
	}
	totalDays := tick / e.TicksPerDay
	step := tick % e.TicksPerDay
	day := totalDays%e.DaysPerMonth + 1
	totalMonths := totalDays / e.DaysPerMonth
	month := totalMonths%MonthsPerYear + 1
	year := totalMonths/MonthsPerYear + 1

	return fmt.Sprintf("Year %d Month %d Day %d, step %d", year, month, day, step)
}
