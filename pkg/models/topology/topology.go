package topology

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultDataset = "global"
	DefaultPort    = 3306
	DefaultTimeout = 200 * time.Millisecond
)

type Operation string

const (
	OperationRead  = Operation("read")
	OperationWrite = Operation("write")
)

// Suffix is the short form used in connection keys.
func (o Operation) Suffix() string {
	if o == OperationWrite {
		return "w"
	}
	return "r"
}

// HandleKey builds the "{dataset}__{w|r}" key of a pooled connection.
func HandleKey(dataset string, op Operation) string {
	return dataset + "__" + op.Suffix()
}

// ServerDescriptor is a single physical server of a dataset.
// Read and Write are priority groups; zero disables the role.
type ServerDescriptor struct {
	Dataset      string
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	Read         float64
	Write        float64
	Timeout      time.Duration
	LagThreshold *float64
}

func (s *ServerDescriptor) HostAndPort() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// Group returns the priority group of the server for the operation.
func (s *ServerDescriptor) Group(op Operation) float64 {
	if op == OperationWrite {
		return s.Write
	}
	return s.Read
}

// Groups maps a priority group to its members, in registration order.
type Groups map[float64][]*ServerDescriptor

// Priorities returns the groups in ascending order, most preferred first.
func (g Groups) Priorities() []float64 {
	res := make([]float64, 0, len(g))
	for p := range g {
		res = append(res, p)
	}
	sort.Float64s(res)
	return res
}

func (g Groups) Size() int {
	n := 0
	for _, members := range g {
		n += len(members)
	}
	return n
}

// Topology holds dataset -> operation -> priority groups.
type Topology struct {
	datasets map[string]map[Operation]Groups
}

func NewTopology() *Topology {
	return &Topology{
		datasets: map[string]map[Operation]Groups{},
	}
}

// Add registers a server. Missing dataset, port and timeout are defaulted,
// a "host:port" host is split.
func (t *Topology) Add(desc ServerDescriptor) *ServerDescriptor {
	d := desc
	if d.Dataset == "" {
		d.Dataset = DefaultDataset
	}
	if h, p, ok := SplitHostPort(d.Host); ok {
		d.Host = h
		if p != 0 {
			d.Port = p
		}
	}
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	if d.Timeout == 0 {
		d.Timeout = DefaultTimeout
	}

	ops, ok := t.datasets[d.Dataset]
	if !ok {
		ops = map[Operation]Groups{}
		t.datasets[d.Dataset] = ops
	}
	for _, op := range []Operation{OperationRead, OperationWrite} {
		g := d.Group(op)
		if g == 0 {
			continue
		}
		if ops[op] == nil {
			ops[op] = Groups{}
		}
		ops[op][g] = append(ops[op][g], &d)
	}
	return &d
}

// Groups returns the priority groups of dataset for op, nil if none.
func (t *Topology) Groups(dataset string, op Operation) Groups {
	ops, ok := t.datasets[dataset]
	if !ok {
		return nil
	}
	return ops[op]
}

func (t *Topology) Empty() bool {
	return len(t.datasets) == 0
}

func (t *Topology) Datasets() []string {
	res := make([]string, 0, len(t.datasets))
	for ds := range t.datasets {
		res = append(res, ds)
	}
	sort.Strings(res)
	return res
}

// SplitHostPort splits "host:port" at the first colon. ok is false when host
// carries no colon; port is 0 when the part after it is not a number.
func SplitHostPort(host string) (string, int, bool) {
	i := strings.IndexByte(host, ':')
	if i <= 0 {
		return host, 0, false
	}
	rest := host[i+1:]
	if j := strings.IndexByte(rest, ':'); j >= 0 {
		rest = rest[:j]
	}
	port, err := strconv.Atoi(rest)
	if err != nil {
		return host[:i], 0, true
	}
	return host[:i], port, true
}
