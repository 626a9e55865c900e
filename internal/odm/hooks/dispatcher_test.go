package hooks

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlin-odm/marlin/internal/odm/schema"
)

type hooked struct {
	Name string `odm:"field=name"`

	calls   []string
	saveErr error
}

func (h *hooked) BeforeSave() error {
	h.calls = append(h.calls, "BeforeSave")
	return h.saveErr
}

func (h *hooked) Saving() {
	h.calls = append(h.calls, "Saving")
}

func (h *hooked) Created() {
	h.calls = append(h.calls, "Created")
}

type brokenHooked struct {
	Name string `odm:"field=name"`
}

func (b *brokenHooked) Creating(reason string) {}

// watcher is an observer with typed and untyped event methods.
type watcher struct {
	saved   []*hooked
	created int
	err     error
}

func (w *watcher) Saved(obj *hooked) error {
	w.saved = append(w.saved, obj)
	return w.err
}

func (w *watcher) AfterCreate(obj any) {
	w.created++
}

// silent has no event methods at all.
type silent struct{}

func definitionOf(t *testing.T, sample any) *schema.SchemaDefinition {
	t.Helper()
	def, err := schema.NewRegistry().Of(reflect.TypeOf(sample))
	require.NoError(t, err)
	return def
}

func TestTriggerDeclaredOrder(t *testing.T) {
	def := definitionOf(t, &hooked{})
	d := NewDispatcher(nil)

	obj := &hooked{}
	require.NoError(t, d.Trigger(def, obj, schema.EventSaving))

	// Both aliases of saving are declared; they run in method order.
	assert.ElementsMatch(t, []string{"BeforeSave", "Saving"}, obj.calls)
	assert.Len(t, obj.calls, 2)
}

func TestTriggerHookError(t *testing.T) {
	def := definitionOf(t, &hooked{})
	d := NewDispatcher(nil)

	boom := errors.New("boom")
	obj := &hooked{saveErr: boom}
	err := d.Trigger(def, obj, schema.EventSaving)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestTriggerNoHooksIsNoop(t *testing.T) {
	def := definitionOf(t, &hooked{})
	d := NewDispatcher(nil)

	obj := &hooked{}
	require.NoError(t, d.Trigger(def, obj, schema.EventDeleted))
	assert.Empty(t, obj.calls)
}

func TestTriggerRequiresPointer(t *testing.T) {
	def := definitionOf(t, &hooked{})
	d := NewDispatcher(nil)

	err := d.Trigger(def, hooked{}, schema.EventSaving)
	require.Error(t, err)
	var cfg *schema.ConfigurationError
	assert.ErrorAs(t, err, &cfg)
}

func TestTriggerNonInvocableHook(t *testing.T) {
	def := definitionOf(t, &brokenHooked{})
	d := NewDispatcher(nil)

	err := d.Trigger(def, &brokenHooked{}, schema.EventCreating)
	require.Error(t, err)
	var cfg *schema.ConfigurationError
	require.ErrorAs(t, err, &cfg)
	assert.Contains(t, cfg.Error(), "Creating")
}

func TestTriggerObservers(t *testing.T) {
	def := definitionOf(t, &hooked{})
	w := &watcher{}
	def.AddObserver(&silent{})
	def.AddObserver(w)

	d := NewDispatcher(nil)
	obj := &hooked{}

	require.NoError(t, d.Trigger(def, obj, schema.EventSaved))
	require.Len(t, w.saved, 1)
	assert.Same(t, obj, w.saved[0])

	require.NoError(t, d.Trigger(def, obj, schema.EventCreated))
	assert.Equal(t, 1, w.created)
}

func TestTriggerObserverError(t *testing.T) {
	def := definitionOf(t, &hooked{})
	w := &watcher{err: errors.New("rejected")}
	def.AddObserver(w)

	d := NewDispatcher(nil)
	err := d.Trigger(def, &hooked{}, schema.EventSaved)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
}

func TestTriggerDeclaredBeforeObservers(t *testing.T) {
	def := definitionOf(t, &hooked{})
	w := &watcher{}
	def.AddObserver(w)

	d := NewDispatcher(nil)
	boom := errors.New("boom")
	obj := &hooked{saveErr: boom}

	// EventSaved has no declared failure, but EventSaving fails before the
	// observer for saved would even be considered. Verify on saving with a
	// saved-only observer: the declared failure propagates and the observer
	// list for saving is never reached.
	err := d.Trigger(def, obj, schema.EventSaving)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, w.saved)
}
