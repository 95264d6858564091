package timeline

type (
	// Action describes a user action that can be performed on the model, which
	// can be initiated by calling the Do() method. Action advertises whether
	// it is enabled, so UI can e.g. gray out buttons when the underlying
	// action is not allowed. The underlying Doer can optionally implement the
	// Enabler interface to decide if the action is enabled or not; if it does
	// not implement the Enabler interface, the action is always allowed.
	Action struct {
		doer Doer
	}

	// Doer is an interface that defines a single Do() method, which is called
	// when an action is performed.
	Doer interface {
		Do()
	}

	// Enabler is an interface that defines a single Enabled() method, which
	// is used by the UI to check if the action is enabled or not.
	Enabler interface {
		Enabled() bool
	}
)

func MakeAction(doer Doer) Action {
	return Action{doer: doer}
}

func (a Action) Do() {
	e, ok := a.doer.(Enabler)
	if ok && !e.Enabled() {
		return
	}
	if a.doer != nil {
		a.doer.Do()
	}
}

func (a Action) Enabled() bool {
	if a.doer == nil {
		return false // no doer, not allowed
	}
	e, ok := a.doer.(Enabler)
	if !ok {
		return true // not enabler, always allowed
	}
	return e.Enabled()
}

// deleteSelected
type deleteSelected Model

// DeleteSelected returns an Action that deletes the selected item.
func (m *Model) DeleteSelected() Action { return MakeAction((*deleteSelected)(m)) }
func (m *deleteSelected) Enabled() bool {
	_, ok := m.d.items[m.d.selection]
	return ok && m.d.gesture == ""
}
func (m *deleteSelected) Do() {
	id := m.d.selection
	(*Model)(m).History().Push()
	(*Model)(m).RemoveItem(id, Local)
}

// toggleLoop
type toggleLoop Model

// ToggleLoop returns an Action that toggles looping of the selected item.
func (m *Model) ToggleLoop() Action { return MakeAction((*toggleLoop)(m)) }
func (m *toggleLoop) Enabled() bool {
	_, ok := m.d.items[m.d.selection]
	return ok && m.d.gesture == ""
}
func (m *toggleLoop) Do() {
	it := *m.d.items[m.d.selection]
	it.LoopEnabled = !it.LoopEnabled
	(*Model)(m).History().Push()
	(*Model)(m).UpdateItem(it, Local)
}
