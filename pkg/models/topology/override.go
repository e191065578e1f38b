package topology

import "time"

// ServerOverride replaces fields of the chosen descriptor for one query.
// Zero values leave the descriptor field untouched.
type ServerOverride struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	Timeout      time.Duration
	LagThreshold *float64
}

func (o *ServerOverride) HasHost() bool {
	return o != nil && o.Host != ""
}

func (o *ServerOverride) HasName() bool {
	return o != nil && o.Name != ""
}

// Apply returns a copy of desc with the override merged in. A combined
// "host:port" host is split again after the merge.
func (o *ServerOverride) Apply(desc ServerDescriptor) ServerDescriptor {
	if o != nil {
		if o.Host != "" {
			desc.Host = o.Host
		}
		if o.Port != 0 {
			desc.Port = o.Port
		}
		if o.User != "" {
			desc.User = o.User
		}
		if o.Password != "" {
			desc.Password = o.Password
		}
		if o.Name != "" {
			desc.Name = o.Name
		}
		if o.Timeout != 0 {
			desc.Timeout = o.Timeout
		}
		if o.LagThreshold != nil {
			desc.LagThreshold = o.LagThreshold
		}
	}
	if h, p, ok := SplitHostPort(desc.Host); ok {
		desc.Host = h
		if p != 0 {
			desc.Port = p
		}
	}
	if desc.Port == 0 {
		desc.Port = DefaultPort
	}
	if desc.Timeout == 0 {
		desc.Timeout = DefaultTimeout
	}
	return desc
}
