package tunnel

// StatusObserver turns OS status callbacks into StatusChanged actions.
// One observer is registered per loaded manager; when the manager is
// replaced the old registration keeps firing with the old ID and the
// reducer drops those actions.
type StatusObserver struct {
	dispatch func(Action)
}

// NewStatusObserver returns an observer that delivers statuses to dispatch.
func NewStatusObserver(dispatch func(Action)) *StatusObserver {
	return &StatusObserver{dispatch: dispatch}
}

// Observe registers the observer on m.
func (o *StatusObserver) Observe(m ProviderManager) {
	id := m.ID()
	m.ObserveConnectionStatus(func(status Status) {
		o.dispatch(StatusChanged{ManagerID: id, Status: status})
	})
}
