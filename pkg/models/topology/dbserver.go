package topology

import "time"

const (
	remoteDCPenalty = 10000
	remoteDCTimeout = 700 * time.Millisecond
)

// DBServer describes one server as written in a datacenter-aware topology file.
type DBServer struct {
	Dataset    string
	Part       string
	Datacenter string
	Read       float64
	Write      float64
	Host       string
	LocalHost  string
	Name       string
	User       string
	Password   string
	Timeout    time.Duration

	LagThreshold *float64
}

// AddDBServer registers s relative to the local datacenter. Servers in other
// datacenters are demoted by 10000 priority groups and get a longer timeout.
// A part suffixes the dataset. A local host alias is registered half a group
// ahead of the server itself.
func (t *Topology) AddDBServer(s DBServer, localDC string) {
	read, write := s.Read, s.Write
	timeout := s.Timeout
	if s.Datacenter != "" && localDC != "" && s.Datacenter != localDC {
		if read > 0 {
			read += remoteDCPenalty
		}
		if write > 0 {
			write += remoteDCPenalty
		}
		timeout = remoteDCTimeout
	}

	dataset := s.Dataset
	if dataset == "" {
		dataset = DefaultDataset
	}
	if s.Part != "" {
		dataset = dataset + "_" + s.Part
	}

	if s.LocalHost != "" && s.LocalHost != s.Host {
		alias := ServerDescriptor{
			Dataset:  dataset,
			Host:     s.LocalHost,
			User:     s.User,
			Password: s.Password,
			Name:     s.Name,
			Timeout:  timeout,

			LagThreshold: s.LagThreshold,
		}
		if read > 0 {
			alias.Read = read - 0.5
		}
		if write > 0 {
			alias.Write = write - 0.5
		}
		t.Add(alias)
	}

	t.Add(ServerDescriptor{
		Dataset:  dataset,
		Host:     s.Host,
		User:     s.User,
		Password: s.Password,
		Name:     s.Name,
		Read:     read,
		Write:    write,
		Timeout:  timeout,

		LagThreshold: s.LagThreshold,
	})
}
