package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/artpar/cmsodm/core/events"
	"github.com/artpar/cmsodm/core/schema"
	"github.com/artpar/cmsodm/ports"
	"golang.org/x/sync/errgroup"
)

// DeleteInstances deletes every document matching filter and cascades the
// deletion through the back-references recorded in each document:
//
//   - optional dependents have their reference cleared
//   - array dependents have the id pulled from their id array
//   - required dependents are deleted, recursively, before the document itself
//
// It returns the number of matched documents. Dependents are not counted.
func (m *Model) DeleteInstances(ctx context.Context, filter ports.Filter) (n int, err error) {
	start := time.Now()
	defer func() { m.cfg.Metrics.ObserveOperation(m.name, "delete", start, err) }()

	if _, err := m.coll(); err != nil {
		return 0, err
	}

	roots, err := m.FindInstances(ctx, filter, ports.FindOptions{})
	if err != nil {
		return 0, err
	}

	d := &deletion{visited: make(map[string]bool)}
	g, gctx := errgroup.WithContext(ctx)
	for _, inst := range roots {
		g.Go(func() error { return d.run(gctx, inst) })
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	m.logger.Debug().Int("count", len(roots)).Msg("documents deleted")
	return len(roots), nil
}

// deletion tracks the documents claimed by one DeleteInstances call so that
// reference cycles terminate and no document is processed twice.
type deletion struct {
	mu      sync.Mutex
	visited map[string]bool
}

func (d *deletion) claim(inst *Instance) bool {
	key := inst.model.name + "/" + inst.ID.Hex()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.visited[key] {
		return false
	}
	d.visited[key] = true
	return true
}

type pending struct {
	inst     *Instance
	root     bool
	released bool
}

// run deletes root and its required dependents depth first using an
// explicit stack. A document is removed only after its dependents.
func (d *deletion) run(ctx context.Context, root *Instance) error {
	stack := []*pending{{inst: root, root: true}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]

		if !top.released {
			if !d.claim(top.inst) {
				stack = stack[:len(stack)-1]
				continue
			}
			top.released = true
			dependents, err := top.inst.model.release(ctx, top.inst)
			if err != nil {
				return err
			}
			for _, dep := range dependents {
				stack = append(stack, &pending{inst: dep})
			}
			continue
		}

		stack = stack[:len(stack)-1]
		if err := top.inst.model.remove(ctx, top.inst, top.root); err != nil {
			return err
		}
	}
	return nil
}

// release detaches inst from the documents that reference it and from the
// documents it references. It returns the required dependents, which must be
// deleted before inst.
func (m *Model) release(ctx context.Context, inst *Instance) ([]*Instance, error) {
	for _, dep := range inst.Dependencies(schema.OptionalDependencies) {
		target, c, ok := m.dependent(dep)
		if !ok {
			continue
		}
		n, err := c.UpdateMany(ctx,
			ports.Filter{"_id": dep.ID, dep.PropertyName: inst.ID},
			ports.Update{Set: ports.Document{dep.PropertyName: nil}})
		if err != nil {
			return nil, fmt.Errorf("clear %s.%s: %w", target.name, dep.PropertyName, err)
		}
		m.cfg.Metrics.Cascade(target.name, "nullify", n)
	}

	for _, dep := range inst.Dependencies(schema.ArrayDependencies) {
		target, c, ok := m.dependent(dep)
		if !ok {
			continue
		}
		n, err := c.UpdateMany(ctx,
			ports.Filter{"_id": dep.ID},
			ports.Update{Pull: ports.Document{dep.PropertyName: inst.ID}})
		if err != nil {
			return nil, fmt.Errorf("pull from %s.%s: %w", target.name, dep.PropertyName, err)
		}
		m.cfg.Metrics.Cascade(target.name, "pull", n)
	}

	if err := inst.Schema.PostDelete(ctx, schema.Owner{Collection: m.name, ID: inst.ID}); err != nil {
		return nil, fmt.Errorf("post delete %s: %w", m.name, err)
	}

	var dependents []*Instance
	for _, dep := range inst.Dependencies(schema.RequiredDependencies) {
		target, _, ok := m.dependent(dep)
		if !ok {
			continue
		}
		found, err := target.FindInstances(ctx, ports.Filter{"_id": dep.ID, dep.PropertyName: inst.ID}, ports.FindOptions{})
		if err != nil {
			return nil, err
		}
		dependents = append(dependents, found...)
	}
	return dependents, nil
}

// dependent resolves the model holding a back-reference.
func (m *Model) dependent(dep schema.Dependency) (*Model, ports.Collection, bool) {
	m.mu.RLock()
	r := m.registry
	m.mu.RUnlock()
	if r == nil {
		return nil, nil, false
	}

	target, ok := r.Get(dep.Collection)
	if !ok {
		m.logger.Warn().Str("dependent", dep.Collection).Msg("dependency on unknown collection ignored")
		return nil, nil, false
	}
	c, err := target.coll()
	if err != nil {
		m.logger.Warn().Err(err).Str("dependent", dep.Collection).Msg("dependency on uninitialized collection ignored")
		return nil, nil, false
	}
	return target, c, true
}

func (m *Model) remove(ctx context.Context, inst *Instance, root bool) error {
	c, err := m.coll()
	if err != nil {
		return err
	}
	n, err := c.DeleteMany(ctx, ports.Filter{"_id": inst.ID})
	if err != nil {
		return fmt.Errorf("delete from %s: %w", m.name, err)
	}
	if !root {
		m.cfg.Metrics.Cascade(m.name, "delete", n)
	}
	m.publish(ctx, events.ActionDeleted, inst)
	return nil
}
