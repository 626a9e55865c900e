package schema

// EventKind enumerates canonical lifecycle events.
type EventKind int

const (
	// EventRetrieved fires after a document is hydrated from the store.
	EventRetrieved EventKind = iota
	// EventCreating and EventCreated surround document creation.
	EventCreating
	EventCreated
	// EventUpdating and EventUpdated surround document updates.
	EventUpdating
	EventUpdated
	// EventSaving and EventSaved wrap every persistence, create or update.
	EventSaving
	EventSaved
	// EventDeleting and EventDeleted surround deletion.
	EventDeleting
	EventDeleted
)

// String returns the canonical event name.
func (k EventKind) String() string {
	switch k {
	case EventRetrieved:
		return "retrieved"
	case EventCreating:
		return "creating"
	case EventCreated:
		return "created"
	case EventUpdating:
		return "updating"
	case EventUpdated:
		return "updated"
	case EventSaving:
		return "saving"
	case EventSaved:
		return "saved"
	case EventDeleting:
		return "deleting"
	case EventDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// eventAliases maps each canonical kind to its recognized method-name
// aliases, canonical form first. Observer dispatch tries them in order.
var eventAliases = map[EventKind][]string{
	EventRetrieved: {"Retrieved"},
	EventCreating:  {"Creating", "BeforeCreate"},
	EventCreated:   {"Created", "AfterCreate"},
	EventUpdating:  {"Updating", "BeforeUpdate"},
	EventUpdated:   {"Updated", "AfterUpdate"},
	EventSaving:    {"Saving", "BeforeSave"},
	EventSaved:     {"Saved", "AfterSave"},
	EventDeleting:  {"Deleting", "BeforeDelete"},
	EventDeleted:   {"Deleted", "AfterDelete"},
}

// methodEvent is the reverse view: method name to canonical kind.
var methodEvent = func() map[string]EventKind {
	m := make(map[string]EventKind)
	for kind, names := range eventAliases {
		for _, n := range names {
			m[n] = kind
		}
	}
	return m
}()

// Aliases returns the recognized method-name aliases for a kind.
func (k EventKind) Aliases() []string {
	return eventAliases[k]
}

// CanonicalEvent resolves a method name to its canonical event kind.
func CanonicalEvent(methodName string) (EventKind, bool) {
	k, ok := methodEvent[methodName]
	return k, ok
}
