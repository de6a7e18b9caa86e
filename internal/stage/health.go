package stage

// Health is one executor's readiness, as shown by the health endpoint and
// logged at daemon start.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

func Healthy(name string) Health { return Health{Name: name, Ready: true} }

// Unhealthy reports name as not ready because of detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}

func (h Health) String() string {
	if h.Ready {
		return h.Name + ": ready"
	}
	return h.Name + ": " + h.Detail
}
