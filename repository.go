package relay

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// ErrNoHydrator indicates Hydrate was called before OnHydrate.
var ErrNoHydrator = errors.New("relay: no hydrator registered")

// SearchQuery maps field names to wanted values.
type SearchQuery map[string]interface{}

// Hydrator maps a raw stored representation to an entity.
type Hydrator[T Entity] func(raw map[string]interface{}) (T, error)

// Fielder exposes an entity's searchable fields. Entities that don't
// implement it are searched through their JSON form.
type Fielder interface {
	Fields() map[string]interface{}
}

// Repository is the persistence boundary for entities. Every successful
// Insert, Update and Delete publishes and clears the entity's pending
// domain events.
type Repository[T Entity] interface {
	FindAll(ctx context.Context) ([]T, error)
	FindByID(ctx context.Context, id string) (T, error)
	Insert(ctx context.Context, entity T) error
	Update(ctx context.Context, entity T) error
	Delete(ctx context.Context, entity T) error
	Search(ctx context.Context, query SearchQuery) ([]T, error)
	Aggregate(ctx context.Context, pipeline interface{}) ([]T, error)
	OnHydrate(fn Hydrator[T])
}

// InMemoryRepository is the reference Repository. It keeps insertion order.
type InMemoryRepository[T Entity] struct {
	mu        sync.RWMutex
	data      map[string]T
	order     []string
	publisher EventPublisher
	hydrator  Hydrator[T]
	logger    Logger
}

var _ Repository[Entity] = (*InMemoryRepository[Entity])(nil)

// RepositoryOption configures an InMemoryRepository.
type RepositoryOption[T Entity] func(*InMemoryRepository[T])

// WithRepositoryLogger sets a custom logger.
func WithRepositoryLogger[T Entity](l Logger) RepositoryOption[T] {
	return func(r *InMemoryRepository[T]) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewInMemoryRepository creates a repository that publishes through publisher,
// usually the Mediator. A nil publisher disables publishing.
func NewInMemoryRepository[T Entity](publisher EventPublisher, opts ...RepositoryOption[T]) *InMemoryRepository[T] {
	r := &InMemoryRepository[T]{
		data:      make(map[string]T),
		publisher: publisher,
		logger:    &noopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FindAll returns every entity in insertion order.
func (r *InMemoryRepository[T]) FindAll(ctx context.Context) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot(), nil
}

// FindByID returns the entity with id or *EntityNotFoundError.
func (r *InMemoryRepository[T]) FindByID(ctx context.Context, id string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entity, ok := r.data[id]
	if !ok {
		var zero T
		return zero, NewEntityNotFoundError(id, "find")
	}
	return entity, nil
}

// Insert stores a new entity, then publishes its events.
// An existing id returns *DuplicateEntityError and publishes nothing.
func (r *InMemoryRepository[T]) Insert(ctx context.Context, entity T) error {
	id := entity.ID()

	r.mu.Lock()
	if _, exists := r.data[id]; exists {
		r.mu.Unlock()
		return NewDuplicateEntityError(id)
	}
	r.data[id] = entity
	r.order = append(r.order, id)
	r.mu.Unlock()

	return r.publish(ctx, entity)
}

// Update replaces a stored entity, then publishes its events.
func (r *InMemoryRepository[T]) Update(ctx context.Context, entity T) error {
	id := entity.ID()

	r.mu.Lock()
	if _, exists := r.data[id]; !exists {
		r.mu.Unlock()
		return NewEntityNotFoundError(id, "update")
	}
	r.data[id] = entity
	r.mu.Unlock()

	return r.publish(ctx, entity)
}

// Delete removes a stored entity, then publishes its events.
func (r *InMemoryRepository[T]) Delete(ctx context.Context, entity T) error {
	id := entity.ID()

	r.mu.Lock()
	if _, exists := r.data[id]; !exists {
		r.mu.Unlock()
		return NewEntityNotFoundError(id, "delete")
	}
	delete(r.data, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	return r.publish(ctx, entity)
}

func (r *InMemoryRepository[T]) publish(ctx context.Context, entity T) error {
	if r.publisher == nil {
		return nil
	}
	if err := r.publisher.PublishEvents(ctx, entity); err != nil {
		r.logger.Error("Publishing entity events failed", "id", entity.ID(), "error", err)
		return err
	}
	return nil
}

// Search returns entities where every query field matches: string fields
// by substring, other fields by equality. An empty query returns everything.
func (r *InMemoryRepository[T]) Search(ctx context.Context, query SearchQuery) ([]T, error) {
	r.mu.RLock()
	all := r.snapshot()
	r.mu.RUnlock()

	if len(query) == 0 {
		return all, nil
	}

	results := make([]T, 0, len(all))
	for _, entity := range all {
		fields, err := fieldsOf(entity)
		if err != nil {
			return nil, err
		}
		if matches(fields, query) {
			results = append(results, entity)
		}
	}
	return results, nil
}

// Aggregate filters with pipeline when it is a func(T) bool and returns
// everything otherwise.
func (r *InMemoryRepository[T]) Aggregate(ctx context.Context, pipeline interface{}) ([]T, error) {
	r.mu.RLock()
	all := r.snapshot()
	r.mu.RUnlock()

	filter, ok := pipeline.(func(T) bool)
	if !ok {
		return all, nil
	}

	results := make([]T, 0, len(all))
	for _, entity := range all {
		if filter(entity) {
			results = append(results, entity)
		}
	}
	return results, nil
}

// OnHydrate registers the raw to entity mapping used by Hydrate.
func (r *InMemoryRepository[T]) OnHydrate(fn Hydrator[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hydrator = fn
}

// Hydrate loads raw records through the registered hydrator without
// publishing events. Existing ids are replaced.
func (r *InMemoryRepository[T]) Hydrate(ctx context.Context, raws ...map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.hydrator == nil {
		return ErrNoHydrator
	}
	for _, raw := range raws {
		entity, err := r.hydrator(raw)
		if err != nil {
			return fmt.Errorf("relay: hydrate: %w", err)
		}
		id := entity.ID()
		if _, exists := r.data[id]; !exists {
			r.order = append(r.order, id)
		}
		r.data[id] = entity
	}
	return nil
}

// Count returns the number of stored entities.
func (r *InMemoryRepository[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

// Clear removes all entities.
func (r *InMemoryRepository[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data = make(map[string]T)
	r.order = nil
}

func (r *InMemoryRepository[T]) snapshot() []T {
	results := make([]T, 0, len(r.order))
	for _, id := range r.order {
		results = append(results, r.data[id])
	}
	return results
}

func fieldsOf(entity interface{}) (map[string]interface{}, error) {
	if f, ok := entity.(Fielder); ok {
		return f.Fields(), nil
	}
	b, err := jsonAPI.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("relay: search fields: %w", err)
	}
	var fields map[string]interface{}
	if err := jsonAPI.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("relay: search fields: %w", err)
	}
	return fields, nil
}

func matches(fields map[string]interface{}, query SearchQuery) bool {
	for key, want := range query {
		got, ok := fields[key]
		if !ok {
			return false
		}
		if s, isString := got.(string); isString {
			ws, ok := want.(string)
			if !ok || !strings.Contains(s, ws) {
				return false
			}
			continue
		}
		if !equalValues(got, want) {
			return false
		}
	}
	return true
}

func equalValues(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}
