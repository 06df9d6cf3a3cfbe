package tether

import (
	"context"

	"github.com/akmonengine/tether/constraint"
	"github.com/akmonengine/tether/island"
	"golang.org/x/sync/errgroup"
)

// solveVelocities runs the velocity iterations of every island. Islands share
// no dynamic body, so each one runs on its own goroutine; Wait is the barrier
// before integration. Faults are returned in island order, whatever the
// scheduling.
func (w *World) solveVelocities(ctx context.Context, islands []*island.Island, dt float64) ([]FaultEvent, error) {
	relaxation := w.cfg.relaxation()
	iterations := w.cfg.VelocityIterations

	return w.forEachIsland(ctx, islands, func(ctx context.Context, isl *island.Island, report func(constraint.Key, error)) error {
		for _, c := range isl.Constraints {
			c.Prepare(dt)
		}

		for it := 0; it < iterations; it++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, c := range isl.Constraints {
				if err := c.SolveVelocity(relaxation); err != nil {
					report(c.Key(), err)
				}
			}
		}
		return nil
	})
}

// solvePositions removes the remaining penetration and joint drift after
// integration, then refreshes the bounds of the moved bodies.
func (w *World) solvePositions(ctx context.Context, islands []*island.Island) ([]FaultEvent, error) {
	iterations := w.cfg.PositionIterations

	return w.forEachIsland(ctx, islands, func(ctx context.Context, isl *island.Island, report func(constraint.Key, error)) error {
		for it := 0; it < iterations; it++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			for _, c := range isl.Constraints {
				if err := c.SolvePosition(); err != nil {
					report(c.Key(), err)
				}
			}
		}

		for _, body := range isl.Bodies {
			body.UpdateAABB()
		}
		return nil
	})
}

type islandSolver func(ctx context.Context, isl *island.Island, report func(key constraint.Key, err error)) error

func (w *World) forEachIsland(ctx context.Context, islands []*island.Island, solve islandSolver) ([]FaultEvent, error) {
	faults := make([][]FaultEvent, len(islands))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Workers)
	for i, isl := range islands {
		i, isl := i, isl
		g.Go(func() error {
			// a constraint is reported once per stage, even if every iteration fails
			report := func(key constraint.Key, err error) {
				for _, fault := range faults[i] {
					if fault.Constraint == key {
						return
					}
				}
				faults[i] = append(faults[i], FaultEvent{Constraint: key, Err: err})
			}
			return solve(gctx, isl, report)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []FaultEvent
	for _, f := range faults {
		all = append(all, f...)
	}
	return all, nil
}
