package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/pg-sharding/dsrouter/pkg/driver"
	"github.com/pg-sharding/dsrouter/pkg/dslog"
	"github.com/pg-sharding/dsrouter/pkg/models/hashfunction"
	"github.com/pg-sharding/dsrouter/pkg/models/topology"
	"golang.org/x/xerrors"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"

	DefaultMaxConnections   = 10
	DefaultTCPCacheTTL      = 10 * time.Second
	DefaultRecheckTimeout   = 100 * time.Millisecond
	DefaultReconnectRetries = 3
	DefaultReconnectSleep   = time.Second
	DefaultMinTries         = 3
	DefaultLagCacheTTL      = 30 * time.Second
	DefaultCharset          = "utf8mb4"
	DefaultCollate          = "utf8mb4_unicode_520_ci"
	DefaultLocalCacheSize   = 1 << 20
	DefaultPrimaryDeadKey   = "/dsrouter/primary_dead"
)

var DefaultQuantiles = []string{"0.5", "0.9", "0.99"}

type Server struct {
	Dataset    string  `json:"dataset" toml:"dataset" yaml:"dataset"`
	Part       string  `json:"part" toml:"part" yaml:"part"`
	Datacenter string  `json:"dc" toml:"dc" yaml:"dc"`
	Host       string  `json:"host" toml:"host" yaml:"host"`
	Port       int     `json:"port" toml:"port" yaml:"port"`
	LocalHost  string  `json:"lhost" toml:"lhost" yaml:"lhost"`
	Name       string  `json:"name" toml:"name" yaml:"name"`
	User       string  `json:"user" toml:"user" yaml:"user"`
	Password   string  `json:"password" toml:"password" yaml:"password"`
	Read       float64 `json:"read" toml:"read" yaml:"read"`
	Write      float64 `json:"write" toml:"write" yaml:"write"`

	Timeout      time.Duration `json:"timeout" toml:"timeout" yaml:"timeout"`
	LagThreshold *float64      `json:"lag_threshold,omitempty" toml:"lag_threshold" yaml:"lag_threshold"`
}

// DBServer converts the entry for datacenter-aware registration.
func (s Server) DBServer() topology.DBServer {
	host := s.Host
	if s.Port != 0 {
		host = fmt.Sprintf("%s:%d", s.Host, s.Port)
	}
	return topology.DBServer{
		Dataset:      s.Dataset,
		Part:         s.Part,
		Datacenter:   s.Datacenter,
		Read:         s.Read,
		Write:        s.Write,
		Host:         host,
		LocalHost:    s.LocalHost,
		Name:         s.Name,
		User:         s.User,
		Password:     s.Password,
		Timeout:      s.Timeout,
		LagThreshold: s.LagThreshold,
	}
}

type CacheCfg struct {
	RedisAddr     string `json:"redis_addr" toml:"redis_addr" yaml:"redis_addr"`
	RedisDB       int    `json:"redis_db" toml:"redis_db" yaml:"redis_db"`
	RedisPassword string `json:"redis_password" toml:"redis_password" yaml:"redis_password"`
	KeyPrefix     string `json:"key_prefix" toml:"key_prefix" yaml:"key_prefix"`
	LocalSize     int    `json:"local_size" toml:"local_size" yaml:"local_size"`
}

type MaintenanceCfg struct {
	EtcdEndpoints  []string      `json:"etcd_endpoints" toml:"etcd_endpoints" yaml:"etcd_endpoints"`
	PrimaryDeadKey string        `json:"primary_dead_key" toml:"primary_dead_key" yaml:"primary_dead_key"`
	PrimaryDead    bool          `json:"primary_dead" toml:"primary_dead" yaml:"primary_dead"`
	Refresh        time.Duration `json:"refresh" toml:"refresh" yaml:"refresh"`
}

// PartitionCfg spreads tables starting with TablePrefix over Count
// datasets named "{Dataset}_{N}" by the hashed partition_key hint.
type PartitionCfg struct {
	Dataset     string `json:"dataset" toml:"dataset" yaml:"dataset"`
	Count       int    `json:"count" toml:"count" yaml:"count"`
	Hash        string `json:"hash" toml:"hash" yaml:"hash"`
	TablePrefix string `json:"table_prefix" toml:"table_prefix" yaml:"table_prefix"`
}

type Router struct {
	LogLevel  string `json:"log_level" toml:"log_level" yaml:"log_level"`
	LogFile   string `json:"log_file" toml:"log_file" yaml:"log_file"`
	PrettyLog bool   `json:"pretty_log" toml:"pretty_log" yaml:"pretty_log"`

	Driver string `json:"driver" toml:"driver" yaml:"driver"`

	MaxConnections  int           `json:"max_connections" toml:"max_connections" yaml:"max_connections"`
	Persistent      bool          `json:"persistent" toml:"persistent" yaml:"persistent"`
	AllowBail       bool          `json:"allow_bail" toml:"allow_bail" yaml:"allow_bail"`
	TCPCheck        *bool         `json:"tcp_check" toml:"tcp_check" yaml:"tcp_check"`
	TCPCacheTTL     time.Duration `json:"tcp_cache_ttl" toml:"tcp_cache_ttl" yaml:"tcp_cache_ttl"`
	RecheckTimeout  time.Duration `json:"recheck_timeout" toml:"recheck_timeout" yaml:"recheck_timeout"`
	CheckHeartbeats *bool         `json:"check_heartbeats" toml:"check_heartbeats" yaml:"check_heartbeats"`

	ReconnectRetries int           `json:"reconnect_retries" toml:"reconnect_retries" yaml:"reconnect_retries"`
	ReconnectSleep   time.Duration `json:"reconnect_sleep" toml:"reconnect_sleep" yaml:"reconnect_sleep"`
	MinTries         int           `json:"min_tries" toml:"min_tries" yaml:"min_tries"`

	DefaultLagThreshold *float64      `json:"default_lag_threshold,omitempty" toml:"default_lag_threshold" yaml:"default_lag_threshold"`
	LagCacheTTL         time.Duration `json:"lag_cache_ttl" toml:"lag_cache_ttl" yaml:"lag_cache_ttl"`

	SendReadsToPrimary bool   `json:"send_reads_to_primary" toml:"send_reads_to_primary" yaml:"send_reads_to_primary"`
	Charset            string `json:"charset" toml:"charset" yaml:"charset"`
	Collate            string `json:"collate" toml:"collate" yaml:"collate"`
	// IncompatibleModes are stripped from the session sql_mode. An explicit
	// empty list keeps the server modes untouched.
	IncompatibleModes []string `json:"incompatible_modes" toml:"incompatible_modes" yaml:"incompatible_modes"`

	SaveQueries             bool          `json:"save_queries" toml:"save_queries" yaml:"save_queries"`
	SaveQueriesFile         string        `json:"save_queries_file" toml:"save_queries_file" yaml:"save_queries_file"`
	LogMinDurationStatement time.Duration `json:"log_min_duration_statement" toml:"log_min_duration_statement" yaml:"log_min_duration_statement"`

	Datacenter string            `json:"datacenter" toml:"datacenter" yaml:"datacenter"`
	Servers    []Server          `json:"servers" toml:"servers" yaml:"servers"`
	Tables     map[string]string `json:"tables" toml:"tables" yaml:"tables"`

	CommentHints bool           `json:"comment_hints" toml:"comment_hints" yaml:"comment_hints"`
	Partitions   []PartitionCfg `json:"partitions" toml:"partitions" yaml:"partitions"`

	Cache       CacheCfg       `json:"cache" toml:"cache" yaml:"cache"`
	Maintenance MaintenanceCfg `json:"maintenance" toml:"maintenance" yaml:"maintenance"`

	Quantiles   []string `json:"quantiles" toml:"quantiles" yaml:"quantiles"`
	JaegerUrl   string   `json:"jaeger_url" toml:"jaeger_url" yaml:"jaeger_url"`
	MetricsAddr string   `json:"metrics_addr" toml:"metrics_addr" yaml:"metrics_addr"`

	// Legacy option names, folded into the fields above by Normalize.
	HyperServers           []Server          `json:"hyper_servers,omitempty" toml:"hyper_servers" yaml:"hyper_servers"`
	HyperTables            map[string]string `json:"hyper_tables,omitempty" toml:"hyper_tables" yaml:"hyper_tables"`
	SRTM                   *bool             `json:"srtm,omitempty" toml:"srtm" yaml:"srtm"`
	MasterDBDead           *bool             `json:"master_db_dead,omitempty" toml:"master_db_dead" yaml:"master_db_dead"`
	CheckTCPResponsiveness *bool             `json:"check_tcp_responsiveness,omitempty" toml:"check_tcp_responsiveness" yaml:"check_tcp_responsiveness"`
}

func LoadRouterCfg(cfgPath string) (*Router, error) {
	file, err := os.Open(cfgPath)
	if err != nil {
		return nil, err
	}
	defer func(file *os.File) {
		_ = file.Close()
	}(file)

	var cfg Router
	if err := initConfig(file, &cfg); err != nil {
		return nil, xerrors.Errorf("failed to decode %s: %w", cfgPath, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	dslog.Zero.Debug().Str("config", cfg.String()).Msg("running config")
	return &cfg, nil
}

// Normalize folds legacy option names into their current fields and fills
// in defaults. Current names win over legacy ones.
func (r *Router) Normalize() {
	if len(r.HyperServers) > 0 {
		r.Servers = append(r.Servers, r.HyperServers...)
		r.HyperServers = nil
	}
	if len(r.HyperTables) > 0 {
		if r.Tables == nil {
			r.Tables = map[string]string{}
		}
		for table, ds := range r.HyperTables {
			if _, ok := r.Tables[table]; !ok {
				r.Tables[table] = ds
			}
		}
		r.HyperTables = nil
	}
	if r.SRTM != nil {
		r.SendReadsToPrimary = r.SendReadsToPrimary || *r.SRTM
		r.SRTM = nil
	}
	if r.MasterDBDead != nil {
		r.Maintenance.PrimaryDead = r.Maintenance.PrimaryDead || *r.MasterDBDead
		r.MasterDBDead = nil
	}
	if r.CheckTCPResponsiveness != nil {
		if r.TCPCheck == nil {
			r.TCPCheck = boolPtr(*r.CheckTCPResponsiveness)
		}
		r.CheckTCPResponsiveness = nil
	}

	if r.Driver == "" {
		r.Driver = DriverMySQL
	}
	if r.LogLevel == "" {
		r.LogLevel = "info"
	}
	if r.MaxConnections <= 0 {
		r.MaxConnections = DefaultMaxConnections
	}
	if r.TCPCheck == nil {
		r.TCPCheck = boolPtr(true)
	}
	if r.TCPCacheTTL <= 0 {
		r.TCPCacheTTL = DefaultTCPCacheTTL
	}
	if r.RecheckTimeout <= 0 {
		r.RecheckTimeout = DefaultRecheckTimeout
	}
	if r.CheckHeartbeats == nil {
		r.CheckHeartbeats = boolPtr(true)
	}
	if r.ReconnectRetries <= 0 {
		r.ReconnectRetries = DefaultReconnectRetries
	}
	if r.ReconnectSleep <= 0 {
		r.ReconnectSleep = DefaultReconnectSleep
	}
	if r.MinTries <= 0 {
		r.MinTries = DefaultMinTries
	}
	if r.LagCacheTTL <= 0 {
		r.LagCacheTTL = DefaultLagCacheTTL
	}
	if r.Charset == "" {
		r.Charset = DefaultCharset
	}
	if r.Collate == "" {
		r.Collate = DefaultCollate
	}
	if r.IncompatibleModes == nil {
		r.IncompatibleModes = driver.DefaultIncompatibleModes
	}
	if r.Cache.LocalSize <= 0 {
		r.Cache.LocalSize = DefaultLocalCacheSize
	}
	if r.Maintenance.PrimaryDeadKey == "" {
		r.Maintenance.PrimaryDeadKey = DefaultPrimaryDeadKey
	}
	if len(r.Quantiles) == 0 {
		r.Quantiles = DefaultQuantiles
	}
	if r.Tables == nil {
		r.Tables = map[string]string{}
	}
}

func (r *Router) Validate() error {
	switch r.Driver {
	case DriverMySQL, DriverPostgres:
	default:
		return fmt.Errorf("unknown driver %q, use %q or %q", r.Driver, DriverMySQL, DriverPostgres)
	}
	for i, s := range r.Servers {
		if s.Host == "" {
			return fmt.Errorf("server #%d of dataset %q has no host", i, s.Dataset)
		}
		if s.Read == 0 && s.Write == 0 {
			return fmt.Errorf("server %s of dataset %q has neither read nor write weight", s.Host, s.Dataset)
		}
	}
	for _, p := range r.Partitions {
		if p.Dataset == "" {
			return fmt.Errorf("partition rule for prefix %q has no dataset", p.TablePrefix)
		}
		if p.Count <= 0 {
			return fmt.Errorf("partition rule of dataset %q needs a positive count", p.Dataset)
		}
		if _, err := hashfunction.HashFunctionByName(p.Hash); err != nil {
			return fmt.Errorf("partition rule of dataset %q: %w", p.Dataset, err)
		}
	}
	return nil
}

// String renders the config as JSON with passwords masked.
func (r *Router) String() string {
	cp := *r
	cp.Servers = make([]Server, len(r.Servers))
	for i, s := range r.Servers {
		if s.Password != "" {
			s.Password = "****"
		}
		cp.Servers[i] = s
	}
	if cp.Cache.RedisPassword != "" {
		cp.Cache.RedisPassword = "****"
	}

	configBytes, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(configBytes)
}
